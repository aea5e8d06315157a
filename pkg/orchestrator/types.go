package orchestrator

import (
	"context"
)



type Logger interface {

	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}


type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}


type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}


type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}


type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// VisionLLMProvider is satisfied by LLM adapters that can attach a still
// image (a screen capture) to a completion request and signal a
// screen-capture-on-demand request back to the pipeline coordinator.
type VisionLLMProvider interface {
	LLMProvider
	CompleteWithImage(ctx context.Context, messages []Message, image []byte) (text string, wantsScreen bool, screenReason string, err error)
}


type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	// Abort cancels any in-flight synthesis on this provider's connection.
	// The pipeline coordinator does not call it; it stops synthesis by
	// cancelling the context passed to StreamSynthesize.
	Abort() error
	Name() string
}


type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}


type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)


type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}

// VADVerdict is the per-frame annotation carried with inbound audio over the
// wire protocol: the client's own VAD decision, trusted by the speech
// aggregator rather than recomputed from raw samples.
type VADVerdict struct {
	IsSpeaking bool
	Energy     float64
	Confidence float64
}


type EventType string

const (
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	BotThinking       EventType = "BOT_THINKING"
	BotResponse       EventType = "BOT_RESPONSE"
	BotSpeaking       EventType = "BOT_SPEAKING"
	Interrupted       EventType = "INTERRUPTED"
	AudioChunk        EventType = "AUDIO_CHUNK"
	AudioComplete     EventType = "AUDIO_COMPLETE"
	ScreenCaptureAsk  EventType = "SCREEN_CAPTURE_REQUEST"
	ErrorEvent        EventType = "ERROR"
)


type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}


type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)


type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)


type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config is the process-wide configuration surface: the original
// audio/session fields, plus the connection-scoped knobs needed once a
// session is driven over the wire instead of an in-process callback.
type Config struct {
	SampleRate         int
	Channels           int
	BytesPerSamp       int
	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language
	STTTimeout         uint
	LLMTimeout         uint
	TTSTimeout         uint

	// MinWordsToInterrupt is carried in Config, but no component in this
	// module reads it; there is no barge-in path for it to gate.
	MinWordsToInterrupt int

	// Speech session bounds.
	MinSpeechDurationS float64
	MaxSpeechDurationS float64

	// Conversation memory budget.
	MemoryMaxTokens int

	// Per-stage adapter deadlines, seconds.
	StageDeadlineSTTSeconds uint
	StageDeadlineLLMSeconds uint
	StageDeadlineTTSSeconds uint

	// Connection supervisor knobs.
	IdleCloseSeconds    uint
	OutboundQueueDepth  int
	ScreenCaptureWaitS  float64
	MemoryGracePeriodS  float64
	SummariseTimeoutS   float64
	SilenceRateLimitS   float64
	SilenceSuppressAftS float64

	VoicePreset Voice
}


func DefaultConfig() Config {
	return Config{
		SampleRate:              44100,
		Channels:                1,
		BytesPerSamp:            2,
		MaxContextMessages:      20,
		VoiceStyle:              VoiceF1,
		Language:                LanguageEn,
		STTTimeout:              30,
		LLMTimeout:              60,
		TTSTimeout:              30,
		MinWordsToInterrupt:     1,
		MinSpeechDurationS:      0.5,
		MaxSpeechDurationS:      30,
		MemoryMaxTokens:         2000,
		StageDeadlineSTTSeconds: 20,
		StageDeadlineLLMSeconds: 30,
		StageDeadlineTTSSeconds: 45,
		IdleCloseSeconds:        90,
		OutboundQueueDepth:      64,
		ScreenCaptureWaitS:      5,
		MemoryGracePeriodS:      30,
		SummariseTimeoutS:       5,
		SilenceRateLimitS:       2,
		SilenceSuppressAftS:     5,
		VoicePreset:             VoiceF1,
	}
}

