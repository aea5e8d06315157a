package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// PipelineStage is where a PipelineJob currently sits in STT -> LLM -> TTS.
type PipelineStage string

const (
	StageSTT    PipelineStage = "stt"
	StageLLM    PipelineStage = "llm"
	StageTTS    PipelineStage = "tts"
	StageDone   PipelineStage = "done"
	StageFailed PipelineStage = "failed"
)

// PipelineJob is the ephemeral record of one in-flight utterance -> response
// cycle. Only one non-terminal job exists per connection at a time; the
// coordinator enforces this via its preemption policy in Submit.
type PipelineJob struct {
	SessionID int64
	Session   *SpeechSession
	Stage     PipelineStage

	cancel context.CancelFunc

	textCommitted bool
	transcript    string
	responseText  string
}

// ScreenCaptureRequester mediates the screen-capture-on-demand round trip:
// the coordinator calls it when the LLM asks for a screen image it wasn't
// already given, and the connection supervisor is responsible for sending
// the request to the client and returning the image (ok=true) when a
// screen_capture_response arrives within the deadline baked into ctx, or
// ok=false when it does not.
type ScreenCaptureRequester func(ctx context.Context, reason, originalText string) (image []byte, ok bool)

// PipelineCoordinator drives STT -> LLM -> TTS for completed speech
// sessions handed to it by a SpeechAggregator, enforcing at-most-one
// in-flight job per connection and the preemption/screen-capture policies.
type PipelineCoordinator struct {
	mu sync.Mutex

	connectionID string
	stt          STTProvider
	llm          LLMProvider
	tts          TTSProvider
	memory       *MemoryStore
	config       Config
	logger       Logger
	events       chan<- OrchestratorEvent

	current *PipelineJob
	queued  *SpeechSession

	requestScreenCapture ScreenCaptureRequester
}

func NewPipelineCoordinator(connectionID string, stt STTProvider, llm LLMProvider, tts TTSProvider, memory *MemoryStore, config Config, logger Logger, events chan<- OrchestratorEvent) *PipelineCoordinator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PipelineCoordinator{
		connectionID: connectionID,
		stt:          stt,
		llm:          llm,
		tts:          tts,
		memory:       memory,
		config:       config,
		logger:       logger,
		events:       events,
	}
}

func (c *PipelineCoordinator) SetScreenCaptureRequester(f ScreenCaptureRequester) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestScreenCapture = f
}

func (c *PipelineCoordinator) emit(evType EventType, data interface{}) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- OrchestratorEvent{Type: evType, SessionID: c.connectionID, Data: data}:
	default:
		c.logger.Warn("dropping outbound event, queue full", "type", evType)
	}
}

// CancelCurrent fires the cancellation handle of the in-flight job, if any,
// and discards any depth-1 queued session. Used on connection shutdown.
func (c *PipelineCoordinator) CancelCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
	}
	c.queued = nil
}

// Submit hands a completed session to the coordinator, applying the
// preemption policy of spec §4.4 against any non-terminal in-flight job.
func (c *PipelineCoordinator) Submit(ctx context.Context, session *SpeechSession) {
	c.mu.Lock()

	if c.current == nil {
		job, jobCtx := c.startJobLocked(session)
		c.mu.Unlock()
		go c.run(jobCtx, job)
		return
	}

	if !c.current.textCommitted {
		c.current.cancel()
		c.emit(Interrupted, nil)
		job, jobCtx := c.startJobLocked(session)
		c.mu.Unlock()
		go c.run(jobCtx, job)
		return
	}

	// Text already committed: current job runs to completion, new session
	// queued depth-1. A third arrival drops the previously queued one.
	if c.queued != nil {
		c.emit(ErrorEvent, map[string]string{"kind": "dropped_queued_session", "message": "superseded before it could run"})
	}
	c.queued = session
	c.mu.Unlock()
}

func (c *PipelineCoordinator) startJobLocked(session *SpeechSession) (*PipelineJob, context.Context) {
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &PipelineJob{SessionID: session.ID, Session: session, Stage: StageSTT, cancel: cancel}
	c.current = job
	return job, jobCtx
}

func (c *PipelineCoordinator) finishJob(job *PipelineJob) {
	c.mu.Lock()
	if c.current == job {
		c.current = nil
	}
	next := c.queued
	c.queued = nil
	c.mu.Unlock()

	if next != nil {
		c.Submit(context.Background(), next)
	}
}

func (c *PipelineCoordinator) run(ctx context.Context, job *PipelineJob) {
	defer c.finishJob(job)

	transcript, ok := c.runSTT(ctx, job)
	if !ok {
		return
	}
	job.transcript = transcript

	job.Stage = StageLLM
	c.emit(BotThinking, nil)
	text, screenImage, ok := c.runLLM(ctx, job, transcript)
	if !ok {
		return
	}
	job.responseText = text
	c.mu.Lock()
	job.textCommitted = true
	c.mu.Unlock()
	c.emit(BotResponse, map[string]string{"text": text})

	job.Stage = StageTTS
	c.runTTS(ctx, job, text, screenImage)
}

func (c *PipelineCoordinator) runSTT(ctx context.Context, job *PipelineJob) (string, bool) {
	if c.stt == nil {
		c.failDrop(job, "stt_failed", "no STT provider configured")
		return "", false
	}

	deadline := time.Duration(c.config.StageDeadlineSTTSeconds) * time.Second
	sctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	audio := pcm16FromFloat32(job.Session.Samples)
	lang := c.config.Language

	var transcript string
	err := withRetry(sctx, c.logger, "stt.transcribe", func(ctx context.Context) error {
		var tErr error
		transcript, tErr = c.stt.Transcribe(ctx, audio, lang)
		return tErr
	})
	if err != nil {
		if errors.Is(err, ErrEmptyTranscription) {
			return "", false
		}
		c.failDrop(job, "stt_failed", err.Error())
		return "", false
	}

	if strings.TrimSpace(transcript) == "" {
		// kEmptyTranscription: dropped silently, no client error.
		return "", false
	}

	c.emit(TranscriptFinal, map[string]string{"text": transcript})
	return transcript, true
}

func (c *PipelineCoordinator) runLLM(ctx context.Context, job *PipelineJob, transcript string) (string, []byte, bool) {
	if c.llm == nil {
		c.failDrop(job, "llm_failed", "no LLM provider configured")
		return "", nil, false
	}

	deadline := time.Duration(c.config.StageDeadlineLLMSeconds) * time.Second
	lctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var messages []Message
	if c.memory != nil {
		messages = c.memory.Snapshot()
	}
	messages = append(messages, Message{Role: "user", Content: transcript})

	vision, isVision := c.llm.(VisionLLMProvider)
	screenImage := job.Session.ScreenImage

	var text string
	var wantsScreen bool
	var reason string

	err := withRetry(lctx, c.logger, "llm.complete", func(ctx context.Context) error {
		var cErr error
		if isVision {
			text, wantsScreen, reason, cErr = vision.CompleteWithImage(ctx, messages, screenImage)
		} else {
			text, cErr = c.llm.Complete(ctx, messages)
		}
		return cErr
	})
	if err != nil {
		c.failDrop(job, "llm_failed", err.Error())
		return "", nil, false
	}

	if wantsScreen && len(screenImage) == 0 {
		c.emit(ScreenCaptureAsk, map[string]string{"reason": reason, "original_text": text})

		if c.requestScreenCapture != nil {
			waitDeadline := time.Duration(c.config.ScreenCaptureWaitS * float64(time.Second))
			sctx, scancel := context.WithTimeout(ctx, waitDeadline)
			image, gotImage := c.requestScreenCapture(sctx, reason, text)
			scancel()

			if gotImage {
				retryCtx, rcancel := context.WithTimeout(ctx, deadline)
				var retryText string
				rerr := withRetry(retryCtx, c.logger, "llm.complete_with_image", func(ctx context.Context) error {
					var cErr error
					retryText, _, _, cErr = vision.CompleteWithImage(ctx, messages, image)
					return cErr
				})
				rcancel()
				if rerr == nil {
					return retryText, image, true
				}
			} else if text == "" {
				c.failDrop(job, "screen_unavailable", "screen capture request timed out")
				return "", nil, false
			}
		} else if text == "" {
			c.failDrop(job, "screen_unavailable", "no screen capture channel available")
			return "", nil, false
		}
	}

	return text, screenImage, true
}

func (c *PipelineCoordinator) runTTS(ctx context.Context, job *PipelineJob, text string, screenImage []byte) {
	if c.tts == nil {
		c.commitTurn(job, text, screenImage)
		c.emit(ErrorEvent, map[string]string{"kind": "tts_failed", "message": "no TTS provider configured"})
		return
	}

	deadline := time.Duration(c.config.StageDeadlineTTSSeconds) * time.Second
	tctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	voice := c.config.VoicePreset
	if voice == "" {
		voice = c.config.VoiceStyle
	}
	lang := c.config.Language

	c.emit(BotSpeaking, nil)

	var totalBytes int
	err := withRetry(tctx, c.logger, "tts.stream_synthesize", func(ctx context.Context) error {
		return c.tts.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
			totalBytes += len(chunk)
			c.emit(AudioChunk, chunk)
			return nil
		})
	})

	sampleRate := c.config.SampleRate
	var durationSeconds float64
	if sampleRate > 0 {
		durationSeconds = float64(totalBytes/2) / float64(sampleRate)
	}
	c.emit(AudioComplete, map[string]interface{}{"duration_seconds": durationSeconds})

	// TTS always commits the turn per the stage failure table, whether it
	// succeeded or failed: a text answer was produced either way.
	c.commitTurn(job, text, screenImage)

	if err != nil {
		job.Stage = StageFailed
		c.emit(ErrorEvent, map[string]string{"kind": "tts_failed", "message": err.Error()})
		return
	}
	job.Stage = StageDone
}

func (c *PipelineCoordinator) commitTurn(job *PipelineJob, responseText string, screenImage []byte) {
	if c.memory == nil {
		return
	}
	c.memory.Append("user", job.transcript)
	c.memory.Append("assistant", responseText)

	summariseTimeout := time.Duration(c.config.SummariseTimeoutS * float64(time.Second))
	if err := c.memory.MaybeSummarise(context.Background(), summariseTimeout); err != nil {
		c.logger.Warn("memory summarisation skipped", "error", err)
	}
}

func (c *PipelineCoordinator) failDrop(job *PipelineJob, kind, message string) {
	job.Stage = StageFailed
	c.emit(ErrorEvent, map[string]string{"kind": kind, "message": message})
}

// pcm16FromFloat32 converts normalized float32 samples in [-1, 1] to
// little-endian 16-bit PCM, the wire format the STT adapters expect.
func pcm16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
