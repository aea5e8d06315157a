package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const charsPerTokenEstimate = 4

const summarisePrompt = "Summarize the following conversation so far in a few sentences, " +
	"preserving names, facts, and decisions the user would expect remembered. " +
	"Write only the summary, no preamble."

// MemoryStore is connection-scoped conversation memory: a rolling summary of
// older turns plus the verbatim recent turns, bounded by an approximate
// token budget rather than a fixed message count, so long-running /ws
// connections keep older facts in summarised form instead of truncating them.
type MemoryStore struct {
	mu sync.RWMutex

	systemPrompt string
	summary      string
	recent       []Message

	maxTokens int
	llm       LLMProvider
	logger    Logger
}

func NewMemoryStore(llm LLMProvider, maxTokens int, logger Logger) *MemoryStore {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultConfig().MemoryMaxTokens
	}
	return &MemoryStore{
		llm:       llm,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func estimateTokens(s string) int {
	return (len(s) + charsPerTokenEstimate - 1) / charsPerTokenEstimate
}

func (m *MemoryStore) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// Append records a turn. It does not summarise inline; call MaybeSummarise
// (typically from the coordinator, after a turn completes) to keep the
// store under budget.
func (m *MemoryStore) Append(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, Message{Role: role, Content: content})
}

// Snapshot returns the message list to send to the LLM: an optional system
// prompt, an optional rolling-summary message, then verbatim recent turns.
func (m *MemoryStore) Snapshot() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Message, 0, len(m.recent)+2)
	if m.systemPrompt != "" {
		out = append(out, Message{Role: "system", Content: m.systemPrompt})
	}
	if m.summary != "" {
		out = append(out, Message{Role: "system", Content: "Conversation summary so far: " + m.summary})
	}
	out = append(out, m.recent...)
	return out
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = ""
	m.recent = nil
}

func (m *MemoryStore) tokenCount() int {
	total := estimateTokens(m.summary)
	for _, msg := range m.recent {
		total += estimateTokens(msg.Content)
	}
	return total
}

// UsedTokens reports the current approximate token usage (summary plus
// verbatim recent turns), excluding the system prompt.
func (m *MemoryStore) UsedTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenCount()
}

// MaybeSummarise compresses the oldest half of recent turns into the rolling
// summary once the store exceeds its token budget. Bounded to
// summariseTimeout; on failure or timeout it leaves the store unchanged
// rather than losing turns.
func (m *MemoryStore) MaybeSummarise(ctx context.Context, summariseTimeout time.Duration) error {
	m.mu.Lock()
	if m.tokenCount() <= m.maxTokens || len(m.recent) < 4 || m.llm == nil {
		m.mu.Unlock()
		return nil
	}
	splitAt := len(m.recent) / 2
	toCompress := make([]Message, splitAt)
	copy(toCompress, m.recent[:splitAt])
	remaining := make([]Message, len(m.recent)-splitAt)
	copy(remaining, m.recent[splitAt:])
	existingSummary := m.summary
	m.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, summariseTimeout)
	defer cancel()

	prompt := []Message{{Role: "system", Content: summarisePrompt}}
	if existingSummary != "" {
		prompt = append(prompt, Message{Role: "system", Content: "Prior summary: " + existingSummary})
	}
	prompt = append(prompt, toCompress...)

	newSummary, err := withRetryValue(sctx, m.logger, "memory.summarise", func(ctx context.Context) (string, error) {
		return m.llm.Complete(ctx, prompt)
	})
	if err != nil {
		m.logger.Warn("summarisation failed, keeping verbatim turns", "error", err)
		return fmt.Errorf("summarise: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = newSummary
	m.recent = remaining
	return nil
}

// withRetryValue adapts withRetry to calls that return a value alongside an
// error, avoiding a second retry implementation for summarisation.
func withRetryValue(ctx context.Context, logger Logger, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	var result string
	err := withRetry(ctx, logger, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
