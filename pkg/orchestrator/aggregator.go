package orchestrator

import (
	"sync"
	"time"
)

// aggregatorState is the speech session aggregator's internal state. Closing
// is transient: ProcessFrame never returns with the aggregator left in
// Closing, it folds straight back to Idle in the same call.
type aggregatorState int

const (
	aggIdle aggregatorState = iota
	aggCapturing
)

const (
	silenceEmitInterval  = 2 * time.Second
	silenceSuppressAfter = 5 * time.Second
)

// SpeechSession is the unit of transcription handed from the aggregator to
// the pipeline coordinator: a contiguous span of speech-frame samples
// bounded by silence or by the maximum utterance duration.
type SpeechSession struct {
	ID           int64
	ConnectionID string
	Samples      []float32
	SampleRate   int
	StartedAt    time.Time
	LastSpeechAt time.Time
	ScreenImage  []byte
}

func (s *SpeechSession) DurationSeconds() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// AudioFrame is one inbound frame off the wire: ordered float32 samples plus
// the client's own VAD verdict. A frame with VAD.IsSpeaking=false and no
// samples is a pure silence marker; one with samples attached despite
// IsSpeaking=false is the client-accumulated-whole-utterance bypass.
type AudioFrame struct {
	Samples     []float32
	SampleRate  int
	TimestampMs int64
	VAD         VADVerdict
	ScreenImage []byte
}

// AggregatorOutput is what ProcessFrame produces for a single inbound
// frame. SpeechInactive is never set together with the other two.
// SpeechActive and CompletedSession are both set when a single speech frame
// opens a session and already reaches the maximum duration, which
// force-closes it in the same call.
type AggregatorOutput struct {
	SpeechActive     bool
	SpeechInactive   bool
	CompletedSession *SpeechSession
}

// SpeechAggregator is the per-connection state machine of speech session
// boundaries: a pure function of (state, frame) -> (state, output),
// independent of any transport so it is unit-testable on its own.
type SpeechAggregator struct {
	mu sync.Mutex

	connectionID string
	state        aggregatorState
	session      *SpeechSession
	nextID       int64
	enabled      bool

	minSpeechDuration float64
	maxSpeechDuration float64

	lastInactiveEmit       time.Time
	continuousSilenceStart time.Time

	echo *EchoSuppressor
}

func NewSpeechAggregator(connectionID string, minSpeechDurationS, maxSpeechDurationS float64) *SpeechAggregator {
	if minSpeechDurationS <= 0 {
		minSpeechDurationS = DefaultConfig().MinSpeechDurationS
	}
	if maxSpeechDurationS <= 0 {
		maxSpeechDurationS = DefaultConfig().MaxSpeechDurationS
	}
	return &SpeechAggregator{
		connectionID:      connectionID,
		enabled:           true,
		minSpeechDuration: minSpeechDurationS,
		maxSpeechDuration: maxSpeechDurationS,
		echo:              NewEchoSuppressor(),
	}
}

// RecordPlayedAudio feeds a chunk of PCM16 audio just sent to the client as
// TTS output into the echo suppressor's rolling reference buffer, so the
// next speech frames can be checked for correlation against it.
func (a *SpeechAggregator) RecordPlayedAudio(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.echo.RecordPlayedAudio(pcm)
}

// SetEchoSuppressionEnabled toggles echo filtering ahead of the state
// machine. It is enabled by default; with no recorded playback it never
// flags a frame as echo.
func (a *SpeechAggregator) SetEchoSuppressionEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.echo.SetEnabled(enabled)
}

// SetEnabled gates ingest per voice_assistant_start/voice_assistant_stop;
// audio_data frames are silently dropped while disabled.
func (a *SpeechAggregator) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

func (a *SpeechAggregator) allocateSessionID() int64 {
	a.nextID++
	return a.nextID
}

// ProcessFrame advances the state machine by one inbound frame.
func (a *SpeechAggregator) ProcessFrame(frame AudioFrame) AggregatorOutput {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return AggregatorOutput{}
	}

	if len(frame.Samples) > 0 && a.echo.IsEcho(pcm16FromFloat32(frame.Samples)) {
		// Speaker echo picked back up by the mic: treat as silence rather
		// than as the start (or continuation) of a user utterance.
		return a.handleSilenceMarker()
	}

	if !frame.VAD.IsSpeaking && len(frame.Samples) > 0 && a.session == nil {
		return a.completeBypassSession(frame)
	}

	if frame.VAD.IsSpeaking {
		return a.handleSpeechFrame(frame)
	}
	return a.handleSilenceMarker()
}

func (a *SpeechAggregator) completeBypassSession(frame AudioFrame) AggregatorOutput {
	now := time.Now()
	sampleRate := frame.SampleRate
	samples := frame.Samples
	duration := float64(len(samples))
	if sampleRate > 0 {
		duration = duration / float64(sampleRate)
	}

	if duration < a.minSpeechDuration {
		return AggregatorOutput{}
	}

	if duration > a.maxSpeechDuration && sampleRate > 0 {
		maxSamples := int(a.maxSpeechDuration * float64(sampleRate))
		if maxSamples < len(samples) {
			samples = samples[:maxSamples]
		}
	}

	session := &SpeechSession{
		ID:           a.allocateSessionID(),
		ConnectionID: a.connectionID,
		Samples:      samples,
		SampleRate:   sampleRate,
		StartedAt:    now,
		LastSpeechAt: now,
		ScreenImage:  frame.ScreenImage,
	}
	return AggregatorOutput{CompletedSession: session}
}

func (a *SpeechAggregator) handleSpeechFrame(frame AudioFrame) AggregatorOutput {
	now := time.Now()
	var out AggregatorOutput

	if a.session == nil {
		a.state = aggCapturing
		a.session = &SpeechSession{
			ID:           a.allocateSessionID(),
			ConnectionID: a.connectionID,
			SampleRate:   frame.SampleRate,
			StartedAt:    now,
		}
		out.SpeechActive = true
	}

	a.session.Samples = append(a.session.Samples, frame.Samples...)
	a.session.LastSpeechAt = now
	if len(frame.ScreenImage) > 0 {
		a.session.ScreenImage = frame.ScreenImage
	}
	a.continuousSilenceStart = time.Time{}

	if a.session.DurationSeconds() >= a.maxSpeechDuration {
		out.CompletedSession = a.closeSession()
	}
	return out
}

func (a *SpeechAggregator) handleSilenceMarker() AggregatorOutput {
	if a.session == nil {
		return a.emitInactiveIfAllowed()
	}

	var out AggregatorOutput
	if a.session.DurationSeconds() >= a.minSpeechDuration {
		out.CompletedSession = a.closeSession()
	} else {
		a.discardSession()
	}
	return out
}

func (a *SpeechAggregator) closeSession() *SpeechSession {
	s := a.session
	a.session = nil
	a.state = aggIdle
	return s
}

func (a *SpeechAggregator) discardSession() {
	a.session = nil
	a.state = aggIdle
}

func (a *SpeechAggregator) emitInactiveIfAllowed() AggregatorOutput {
	now := time.Now()
	if a.continuousSilenceStart.IsZero() {
		a.continuousSilenceStart = now
	}
	if now.Sub(a.continuousSilenceStart) >= silenceSuppressAfter {
		return AggregatorOutput{}
	}
	if now.Sub(a.lastInactiveEmit) < silenceEmitInterval {
		return AggregatorOutput{}
	}
	a.lastInactiveEmit = now
	return AggregatorOutput{SpeechInactive: true}
}

// HasOpenSession reports whether a session is currently accumulating.
func (a *SpeechAggregator) HasOpenSession() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}
