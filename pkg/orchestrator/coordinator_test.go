package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSTT struct {
	text string
	err  error
	delay time.Duration
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
func (f *fakeSTT) Name() string { return "fake-stt" }

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeTTS struct {
	err   error
	chunk []byte
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return f.chunk, f.err
}
func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	if f.chunk != nil {
		return onChunk(f.chunk)
	}
	return nil
}
func (f *fakeTTS) Abort() error { return nil }
func (f *fakeTTS) Name() string { return "fake-tts" }

func newTestCoordinator(stt STTProvider, llm LLMProvider, tts TTSProvider) (*PipelineCoordinator, chan OrchestratorEvent) {
	events := make(chan OrchestratorEvent, 16)
	mem := NewMemoryStore(nil, 2000, nil)
	cfg := DefaultConfig()
	c := NewPipelineCoordinator("conn1", stt, llm, tts, mem, cfg, nil, events)
	return c, events
}

func drainEvents(t *testing.T, events chan OrchestratorEvent, timeout time.Duration) []OrchestratorEvent {
	t.Helper()
	var got []OrchestratorEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}

func TestPipelineCoordinator_HappyPathEmitsOrderedTriple(t *testing.T) {
	c, events := newTestCoordinator(
		&fakeSTT{text: "hello there"},
		&fakeLLM{text: "hi, how can I help?"},
		&fakeTTS{chunk: []byte{1, 2, 3}},
	)

	session := &SpeechSession{ID: 1, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), session)

	got := drainEvents(t, events, 500*time.Millisecond)

	var types []EventType
	for _, ev := range got {
		types = append(types, ev.Type)
	}

	indexOf := func(want EventType) int {
		for i, tp := range types {
			if tp == want {
				return i
			}
		}
		t.Fatalf("expected %v among emitted events, got %v", want, types)
		return -1
	}

	transcriptIdx := indexOf(TranscriptFinal)
	responseIdx := indexOf(BotResponse)
	audioIdx := indexOf(AudioChunk)
	completeIdx := indexOf(AudioComplete)

	if !(transcriptIdx < responseIdx && responseIdx < audioIdx && audioIdx < completeIdx) {
		t.Fatalf("expected transcript -> response -> audio -> complete ordering, got %v", types)
	}
}

func TestPipelineCoordinator_EmptyTranscriptionDroppedSilently(t *testing.T) {
	c, events := newTestCoordinator(
		&fakeSTT{text: "   "},
		&fakeLLM{text: "should not be called"},
		&fakeTTS{},
	)

	session := &SpeechSession{ID: 1, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), session)

	got := drainEvents(t, events, 300*time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("expected no events for empty transcription, got %v", got)
	}
}

func TestPipelineCoordinator_STTFailureEmitsErrorAndDropsSession(t *testing.T) {
	c, events := newTestCoordinator(
		&fakeSTT{err: errors.New("upstream down")},
		&fakeLLM{text: "unreachable"},
		&fakeTTS{},
	)

	session := &SpeechSession{ID: 1, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), session)

	got := drainEvents(t, events, 300*time.Millisecond)
	if len(got) != 1 || got[0].Type != ErrorEvent {
		t.Fatalf("expected single ErrorEvent, got %v", got)
	}
}

func TestPipelineCoordinator_TTSFailureStillCommitsTurn(t *testing.T) {
	mem := NewMemoryStore(nil, 2000, nil)
	events := make(chan OrchestratorEvent, 16)
	cfg := DefaultConfig()
	c := NewPipelineCoordinator("conn1", &fakeSTT{text: "hi"}, &fakeLLM{text: "hello back"}, &fakeTTS{err: errors.New("503")}, mem, cfg, nil, events)

	session := &SpeechSession{ID: 1, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), session)

	drainEvents(t, events, 300*time.Millisecond)

	snap := mem.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected turn committed despite TTS failure, got %d messages", len(snap))
	}
}

func TestPipelineCoordinator_PreemptsInFlightJobBeforeTextCommitted(t *testing.T) {
	c, events := newTestCoordinator(
		&fakeSTT{text: "first utterance", delay: 200 * time.Millisecond},
		&fakeLLM{text: "response"},
		&fakeTTS{chunk: []byte{9}},
	)

	first := &SpeechSession{ID: 1, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), first)

	time.Sleep(20 * time.Millisecond) // let the first job enter STT

	second := &SpeechSession{ID: 2, ConnectionID: "conn1", Samples: make([]float32, 16000), SampleRate: 16000}
	c.Submit(context.Background(), second)

	got := drainEvents(t, events, 500*time.Millisecond)

	transcriptCount := 0
	for _, ev := range got {
		if ev.Type == TranscriptFinal {
			transcriptCount++
		}
	}
	if transcriptCount != 1 {
		t.Fatalf("expected exactly one surviving transcript after preemption, got %d", transcriptCount)
	}
}
