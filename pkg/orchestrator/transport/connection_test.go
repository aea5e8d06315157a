package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func newTestConnection(outboundDepth int) *Connection {
	return &Connection{
		id:         "conn-test",
		config:     orchestrator.DefaultConfig(),
		logger:     &orchestrator.NoOpLogger{},
		outbound:   make(chan outboundFrame, outboundDepth),
		coreEvents: make(chan orchestrator.OrchestratorEvent, 8),
	}
}

func drainOutbound(c *Connection) []outboundFrame {
	var got []outboundFrame
	for {
		select {
		case f := <-c.outbound:
			got = append(got, f)
		default:
			return got
		}
	}
}

func TestEnqueueOutbound_NonCriticalDroppedWhenFull(t *testing.T) {
	c := newTestConnection(1)
	c.enqueueOutbound(speechActiveMessage{Type: outSpeechActive}, false)
	c.enqueueOutbound(speechActiveMessage{Type: outSpeechActive}, false) // queue full, dropped

	got := drainOutbound(c)
	if len(got) != 1 {
		t.Fatalf("expected exactly one queued frame, got %d", len(got))
	}
}

func TestEnqueueOutbound_CriticalEvictsOldestWhenFull(t *testing.T) {
	c := newTestConnection(1)
	c.enqueueOutbound(transcriptionResultMessage{Type: outTranscriptionResult, Text: "first"}, true)
	c.enqueueOutbound(transcriptionResultMessage{Type: outTranscriptionResult, Text: "second"}, true)

	got := drainOutbound(c)
	if len(got) != 1 {
		t.Fatalf("expected queue depth to stay at 1, got %d", len(got))
	}
	var msg transcriptionResultMessage
	if err := json.Unmarshal(got[0].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "second" {
		t.Fatalf("expected the newer critical frame to survive eviction, got %q", msg.Text)
	}
}

func TestRequestScreenCapture_ResolvesOnResponse(t *testing.T) {
	c := newTestConnection(8)

	done := make(chan []byte, 1)
	go func() {
		img, ok := c.requestScreenCapture(context.Background(), "need screen", "original")
		if !ok {
			done <- nil
			return
		}
		done <- img
	}()

	// Let requestScreenCapture register its pending channel.
	time.Sleep(10 * time.Millisecond)

	encoded := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	raw, _ := json.Marshal(screenCaptureResponseMessage{Type: "screen_capture_response", ScreenImage: encoded})
	c.handleScreenCaptureResponse(raw)

	select {
	case img := <-done:
		if string(img) != "fake-png-bytes" {
			t.Fatalf("expected decoded image bytes, got %q", img)
		}
	case <-time.After(time.Second):
		t.Fatal("requestScreenCapture did not resolve")
	}
}

func TestRequestScreenCapture_TimesOutWithoutResponse(t *testing.T) {
	c := newTestConnection(8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := c.requestScreenCapture(ctx, "need screen", "original")
	if ok {
		t.Fatal("expected requestScreenCapture to time out without a response")
	}
}

func TestTranslateEvent_AudioChunksAccumulateUntilComplete(t *testing.T) {
	c := newTestConnection(8)
	c.config.SampleRate = 16000

	chunk1 := []byte{0x00, 0x40} // 0x4000 as little-endian int16
	chunk2 := []byte{0x00, 0xC0} // 0xC000 as little-endian int16
	c.translateEvent(orchestrator.OrchestratorEvent{Type: orchestrator.AudioChunk, Data: chunk1})
	c.translateEvent(orchestrator.OrchestratorEvent{Type: orchestrator.AudioChunk, Data: chunk2})

	if got := drainOutbound(c); len(got) != 0 {
		t.Fatalf("expected no frame before completion, got %d", len(got))
	}

	c.translateEvent(orchestrator.OrchestratorEvent{
		Type: orchestrator.AudioComplete,
		Data: map[string]interface{}{"duration_seconds": 0.5},
	})

	got := drainOutbound(c)
	if len(got) != 1 {
		t.Fatalf("expected exactly one audio_response frame on completion, got %d", len(got))
	}
	var msg audioResponseMessage
	if err := json.Unmarshal(got[0].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg.AudioData) != 2 {
		t.Fatalf("expected 2 decoded samples, got %d", len(msg.AudioData))
	}
	if msg.SampleRate != 16000 {
		t.Fatalf("expected sample rate to carry through, got %d", msg.SampleRate)
	}
	if msg.Duration != 0.5 {
		t.Fatalf("expected duration to carry through, got %v", msg.Duration)
	}
}

func TestDispatchAggregatorOutput_SubmitsCompletedSession(t *testing.T) {
	c := newTestConnection(8)
	mem := orchestrator.NewMemoryStore(nil, 2000, nil)
	events := make(chan orchestrator.OrchestratorEvent, 8)
	cfg := orchestrator.DefaultConfig()
	c.coordinator = orchestrator.NewPipelineCoordinator("conn-test", nil, nil, nil, mem, cfg, nil, events)

	session := &orchestrator.SpeechSession{ID: 1, ConnectionID: "conn-test", Samples: make([]float32, 16000), SampleRate: 16000}
	c.dispatchAggregatorOutput(context.Background(), orchestrator.AggregatorOutput{CompletedSession: session})

	select {
	case ev := <-events:
		if ev.Type != orchestrator.ErrorEvent {
			t.Fatalf("expected submission without an STT provider to fail fast with an error event, got %v", ev.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected the coordinator to process the submitted session")
	}
}
