package orchestrator

import (
	"errors"
	"fmt"
)


var (

	ErrEmptyTranscription = errors.New("transcription returned empty text")


	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")


	ErrLLMFailed = errors.New("language model generation failed")


	ErrTTSFailed = errors.New("text-to-speech synthesis failed")


	ErrNilProvider = errors.New("required provider is nil")


	ErrContextCancelled = errors.New("operation cancelled by context")
)

// ErrorKind tags an adapter failure with the reaction the pipeline
// coordinator should take, rather than leaving callers to string-match.
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamRejected    ErrorKind = "upstream_rejected"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindEmptyTranscription  ErrorKind = "empty_transcription"
	KindScreenUnavailable   ErrorKind = "screen_unavailable"
	KindBackpressure        ErrorKind = "backpressure"
	KindInternal            ErrorKind = "internal"
)

// ProviderError wraps an adapter failure with the kind that decides retry
// and recovery behavior. Use errors.As to recover it.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(op string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether the coordinator's retry wrapper should attempt
// this call again.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUpstreamUnavailable
}

// ErrorKindOf extracts the ErrorKind from err if it (or something it wraps)
// is a *ProviderError, defaulting to KindInternal otherwise.
func ErrorKindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
