package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubSummariserLLM struct {
	summary string
	calls   int
}

func (s *stubSummariserLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	s.calls++
	return s.summary, nil
}

func (s *stubSummariserLLM) Name() string { return "stub" }

func TestMemoryStore_AppendAndSnapshot(t *testing.T) {
	m := NewMemoryStore(nil, 2000, nil)
	m.SetSystemPrompt("be helpful")
	m.Append("user", "hi")
	m.Append("assistant", "hello")

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 messages (system + 2 turns), got %d", len(snap))
	}
	if snap[0].Role != "system" || snap[0].Content != "be helpful" {
		t.Fatalf("expected system prompt first, got %+v", snap[0])
	}
}

func TestMemoryStore_ClearResetsSummaryAndTurns(t *testing.T) {
	m := NewMemoryStore(nil, 2000, nil)
	m.Append("user", "hi")
	m.Clear()
	if len(m.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after clear")
	}
}

func TestMemoryStore_MaybeSummariseCompressesOldestHalf(t *testing.T) {
	llm := &stubSummariserLLM{summary: "user greeted the assistant twice"}
	m := NewMemoryStore(llm, 1, nil) // tiny budget forces summarisation

	for i := 0; i < 6; i++ {
		m.Append("user", strings.Repeat("hello world ", 5))
		m.Append("assistant", strings.Repeat("hi there ", 5))
	}

	if err := m.MaybeSummarise(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly 1 summarisation call, got %d", llm.calls)
	}

	snap := m.Snapshot()
	found := false
	for _, msg := range snap {
		if strings.Contains(msg.Content, "user greeted the assistant twice") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected summary to be present in snapshot, got %+v", snap)
	}
}

func TestMemoryStore_MaybeSummariseNoopUnderBudget(t *testing.T) {
	llm := &stubSummariserLLM{summary: "should not be called"}
	m := NewMemoryStore(llm, 2000, nil)
	m.Append("user", "hi")

	if err := m.MaybeSummarise(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.calls != 0 {
		t.Fatalf("expected no summarisation call under budget, got %d", llm.calls)
	}
}

func TestMemoryStore_MaybeSummariseNoopWithNilLLM(t *testing.T) {
	m := NewMemoryStore(nil, 1, nil)
	for i := 0; i < 10; i++ {
		m.Append("user", strings.Repeat("x", 100))
	}
	if err := m.MaybeSummarise(context.Background(), time.Second); err != nil {
		t.Fatalf("expected nil-llm to be a no-op, got %v", err)
	}
}
