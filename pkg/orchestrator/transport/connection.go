package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
)

const (
	heartbeatIdleAfter = 45 * time.Second
	connectionCloseAfter = 90 * time.Second
	keepaliveTick        = 5 * time.Second
)

// defaultSystemPrompt instructs the model to emit the literal screen-capture
// sentinel (see pkg/providers/llm/vision.go) rather than being asked to
// infer screen-sharing intent heuristically.
var defaultSystemPrompt = "You are a helpful, concise voice assistant. Use short sentences " +
	"suitable for speech. If seeing the user's screen would materially help answer, " +
	"respond with the exact marker " + llm.ScreenRequestMarker + " followed by a brief reason."

// Connection is the per-/ws-connection supervisor (C5): it owns the
// transport, demultiplexes inbound frames to the aggregator and
// coordinator, serialises outbound frames through a single writer, and
// runs the keepalive/shutdown lifecycle of spec §4.5.
type Connection struct {
	id      string
	conn    *websocket.Conn
	config  orchestrator.Config
	logger  orchestrator.Logger
	metrics *Metrics

	aggregator  *orchestrator.SpeechAggregator
	coordinator *orchestrator.PipelineCoordinator
	memory      *orchestrator.MemoryStore

	coreEvents chan orchestrator.OrchestratorEvent
	outbound   chan outboundFrame

	screenMu             sync.Mutex
	pendingScreenCapture chan screenCaptureResponseMessage

	lastInboundMu sync.Mutex
	lastInbound   time.Time
	heartbeatSent bool

	pendingAudio []byte

	closeOnce sync.Once
}

type outboundFrame struct {
	data     []byte
	critical bool
}

type Providers struct {
	STT orchestrator.STTProvider
	LLM orchestrator.LLMProvider
	TTS orchestrator.TTSProvider
}

func NewConnection(id string, conn *websocket.Conn, providers Providers, cfg orchestrator.Config, logger orchestrator.Logger, metrics *Metrics) *Connection {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	depth := cfg.OutboundQueueDepth
	if depth <= 0 {
		depth = orchestrator.DefaultConfig().OutboundQueueDepth
	}

	coreEvents := make(chan orchestrator.OrchestratorEvent, depth)
	memory := orchestrator.NewMemoryStore(providers.LLM, cfg.MemoryMaxTokens, logger)
	memory.SetSystemPrompt(defaultSystemPrompt)

	c := &Connection{
		id:          id,
		conn:        conn,
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		aggregator:  orchestrator.NewSpeechAggregator(id, cfg.MinSpeechDurationS, cfg.MaxSpeechDurationS),
		memory:      memory,
		coreEvents:  coreEvents,
		outbound:    make(chan outboundFrame, depth),
		lastInbound: time.Now(),
	}
	c.coordinator = orchestrator.NewPipelineCoordinator(id, providers.STT, providers.LLM, providers.TTS, memory, cfg, logger, coreEvents)
	c.coordinator.SetScreenCaptureRequester(c.requestScreenCapture)
	return c
}

// Serve runs the connection's reader/coordinator-event/writer/keepalive
// tasks until the transport closes or ctx is cancelled, then tears down.
func (c *Connection) Serve(ctx context.Context) error {
	if c.metrics != nil {
		c.metrics.ActiveConnections.Inc()
		defer c.metrics.ActiveConnections.Dec()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.eventLoop(gctx) })
	g.Go(func() error { return c.keepaliveLoop(gctx) })

	err := g.Wait()
	c.shutdown()
	return err
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.coordinator.CancelCurrent()
	})
}

func (c *Connection) touchLastInbound() {
	c.lastInboundMu.Lock()
	c.lastInbound = time.Now()
	c.heartbeatSent = false
	c.lastInboundMu.Unlock()
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		c.touchLastInbound()

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed inbound frame", "connectionID", c.id, "error", err)
			continue
		}

		switch env.Type {
		case inAudioData:
			c.handleAudioData(ctx, data)
		case inVADState:
			c.handleVADState(data)
		case inVoiceAssistantStart:
			c.aggregator.SetEnabled(true)
		case inVoiceAssistantStop:
			c.aggregator.SetEnabled(false)
		case inScreenShareStart, inScreenShareStop:
			// Informational flag only; no aggregator/coordinator action.
		case inScreenCaptureResponse:
			c.handleScreenCaptureResponse(data)
		case inHeartbeat:
			c.enqueueOutbound(heartbeatAckMessage{Type: outHeartbeatAck}, true)
		default:
			c.logger.Warn("ignoring unknown inbound message type", "connectionID", c.id, "type", env.Type)
		}
	}
}

func (c *Connection) handleAudioData(ctx context.Context, raw []byte) {
	var msg audioDataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed audio_data frame", "connectionID", c.id, "error", err)
		return
	}

	frame := orchestrator.AudioFrame{
		Samples:     msg.Data,
		SampleRate:  msg.SampleRate,
		TimestampMs: msg.Timestamp,
		VAD: orchestrator.VADVerdict{
			IsSpeaking: msg.VAD.IsSpeaking,
			Energy:     msg.VAD.Energy,
			Confidence: msg.VAD.Confidence,
		},
	}
	if msg.ScreenImage != "" {
		if img, err := base64.StdEncoding.DecodeString(msg.ScreenImage); err == nil {
			frame.ScreenImage = img
		}
	}

	out := c.aggregator.ProcessFrame(frame)
	c.dispatchAggregatorOutput(ctx, out)
}

func (c *Connection) handleVADState(raw []byte) {
	var msg vadStateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed vad_state frame", "connectionID", c.id, "error", err)
		return
	}
	out := c.aggregator.ProcessFrame(orchestrator.AudioFrame{
		TimestampMs: msg.Timestamp,
		VAD: orchestrator.VADVerdict{
			IsSpeaking: msg.VAD.IsSpeaking,
			Energy:     msg.VAD.Energy,
			Confidence: msg.VAD.Confidence,
		},
	})
	c.dispatchAggregatorOutput(context.Background(), out)
}

func (c *Connection) dispatchAggregatorOutput(ctx context.Context, out orchestrator.AggregatorOutput) {
	if out.SpeechActive {
		c.enqueueOutbound(speechActiveMessage{Type: outSpeechActive}, false)
	}
	if out.SpeechInactive {
		// No dedicated wire message beyond the rate-limiting itself; the
		// silence edge is communicated by the absence of speech_active.
	}
	if out.CompletedSession != nil {
		c.coordinator.Submit(ctx, out.CompletedSession)
	}
}

func (c *Connection) handleScreenCaptureResponse(raw []byte) {
	var msg screenCaptureResponseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed screen_capture_response frame", "connectionID", c.id, "error", err)
		return
	}

	c.screenMu.Lock()
	ch := c.pendingScreenCapture
	c.pendingScreenCapture = nil
	c.screenMu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// requestScreenCapture is the coordinator's ScreenCaptureRequester: it
// blocks until a screen_capture_response arrives or ctx's deadline fires.
func (c *Connection) requestScreenCapture(ctx context.Context, reason, originalText string) ([]byte, bool) {
	ch := make(chan screenCaptureResponseMessage, 1)

	c.screenMu.Lock()
	c.pendingScreenCapture = ch
	c.screenMu.Unlock()

	c.enqueueOutbound(screenCaptureRequestMessage{
		Type:         outScreenCaptureReq,
		Reason:       reason,
		OriginalText: originalText,
	}, true)

	select {
	case msg := <-ch:
		image, err := base64.StdEncoding.DecodeString(msg.ScreenImage)
		if err != nil {
			return nil, false
		}
		return image, true
	case <-ctx.Done():
		return nil, false
	}
}

// eventLoop translates core OrchestratorEvents (from the coordinator) into
// outbound wire messages.
func (c *Connection) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.coreEvents:
			c.translateEvent(ev)
		}
	}
}

func (c *Connection) translateEvent(ev orchestrator.OrchestratorEvent) {
	switch ev.Type {
	case orchestrator.TranscriptFinal:
		data, _ := ev.Data.(map[string]string)
		c.enqueueOutbound(transcriptionResultMessage{Type: outTranscriptionResult, Text: data["text"]}, true)
	case orchestrator.BotResponse:
		data, _ := ev.Data.(map[string]string)
		c.enqueueOutbound(aiResponseMessage{Type: outAIResponse, Text: data["text"]}, true)
	case orchestrator.AudioChunk:
		samples, _ := ev.Data.([]byte)
		c.pendingAudio = append(c.pendingAudio, samples...)
		if c.aggregator != nil {
			c.aggregator.RecordPlayedAudio(samples)
		}
	case orchestrator.AudioComplete:
		data, _ := ev.Data.(map[string]interface{})
		duration, _ := data["duration_seconds"].(float64)
		c.enqueueOutbound(audioResponseMessage{
			Type:       outAudioResponse,
			AudioData:  bytesToFloat32PCM16(c.pendingAudio),
			SampleRate: c.config.SampleRate,
			Duration:   duration,
		}, true)
		c.pendingAudio = nil
		if c.metrics != nil {
			c.metrics.SessionsCompleted.Inc()
		}
	case orchestrator.ErrorEvent:
		data, _ := ev.Data.(map[string]string)
		if c.metrics != nil && data["kind"] == "dropped_queued_session" {
			c.metrics.SessionsDropped.Inc()
		}
		c.enqueueOutbound(errorMessage{Type: outError, Kind: data["kind"], Message: data["message"]}, true)
	case orchestrator.ScreenCaptureAsk:
		// Handled synchronously by requestScreenCapture, which already
		// enqueues the outbound frame; nothing further to do here.
	}
}

func bytesToFloat32PCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

func (c *Connection) enqueueOutbound(payload interface{}, critical bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal outbound message", "connectionID", c.id, "error", err)
		return
	}

	select {
	case c.outbound <- outboundFrame{data: data, critical: critical}:
		return
	default:
	}

	if !critical {
		if c.metrics != nil {
			c.metrics.OutboundDrops.Inc()
		}
		return
	}

	// Critical: drop the oldest queued frame to make room rather than
	// silently losing a committed transcript/response/audio event.
	select {
	case <-c.outbound:
		if c.metrics != nil {
			c.metrics.OutboundDrops.Inc()
		}
	default:
	}
	select {
	case c.outbound <- outboundFrame{data: data, critical: critical}:
	default:
		c.logger.Error("outbound queue saturated even after eviction, closing", "connectionID", c.id)
		_ = c.conn.Close(websocket.StatusPolicyViolation, "kBackpressure")
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.outbound:
			if err := c.conn.Write(ctx, websocket.MessageText, frame.data); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.lastInboundMu.Lock()
			idle := time.Since(c.lastInbound)
			alreadySent := c.heartbeatSent
			if idle >= connectionCloseAfter {
				c.lastInboundMu.Unlock()
				_ = c.conn.Close(websocket.StatusNormalClosure, "idle timeout")
				return errIdleTimeout
			}
			if idle >= heartbeatIdleAfter && !alreadySent {
				c.heartbeatSent = true
			}
			c.lastInboundMu.Unlock()
			if idle >= heartbeatIdleAfter && !alreadySent {
				c.enqueueOutbound(heartbeatMessage{Type: outHeartbeat}, false)
			}
		}
	}
}

var errIdleTimeout = errConnIdle("connection idle timeout exceeded")

type errConnIdle string

func (e errConnIdle) Error() string { return string(e) }
