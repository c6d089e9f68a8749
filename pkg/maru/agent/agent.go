// Package agent – agent.go implements the turn loop: build context, call
// the model, execute tool calls, feed results back, up to a fixed number of
// iterations per turn. Every message is appended to the durable session log
// as it is produced.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marubot/maru/pkg/maru/memory"
)

// MaxToolIterations caps model round-trips within one turn.
const MaxToolIterations = 8

// Agent runs conversation turns.
type Agent struct {
	cfg       *Config
	llm       *LLMClient
	sessions  *SessionStore
	executor  *ToolExecutor
	compactor *Compactor
	index     *memory.Index
	usage     UsageTracker
	logger    *slog.Logger
}

// NewAgent wires the turn loop. index may be nil when memory retrieval is
// disabled.
func NewAgent(cfg *Config, llm *LLMClient, sessions *SessionStore, executor *ToolExecutor, compactor *Compactor, index *memory.Index, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		llm:       llm,
		sessions:  sessions,
		executor:  executor,
		compactor: compactor,
		index:     index,
		logger:    logger.With("component", "agent"),
	}
}

// Sessions exposes the session store for command handling.
func (a *Agent) Sessions() *SessionStore { return a.sessions }

// LLM exposes the client for command handling.
func (a *Agent) LLM() *LLMClient { return a.llm }

// Usage returns accumulated token usage.
func (a *Agent) Usage() UsageSnapshot { return a.usage.Snapshot() }

// Compact forces a compaction for the chat.
func (a *Agent) Compact(ctx context.Context, chatID int64) error {
	return a.compactor.Compact(ctx, chatID)
}

// RunTurn processes one user message and returns the final reply text.
// onDelta, when non-nil, receives streamed text as it arrives. On failure
// before any reply was produced, the user message is rolled back so a retry
// does not duplicate it.
func (a *Agent) RunTurn(ctx context.Context, chatID int64, userText string, onDelta StreamCallback) (string, error) {
	return a.runTurn(ctx, chatID, userText, "", onDelta)
}

func (a *Agent) runTurn(ctx context.Context, chatID int64, userText, extraSystem string, onDelta StreamCallback) (string, error) {
	sess := a.sessions.BeginTurn(chatID)
	defer a.sessions.EndTurn(chatID)

	userMsg := Message{Role: "user", Content: userText, CreatedAt: time.Now()}
	if err := a.sessions.AppendMessage(chatID, userMsg); err != nil {
		return "", err
	}
	history := append(sess.History, userMsg)

	memories := a.retrieveMemories(ctx, userText)
	system := a.systemPrompt()
	if extraSystem != "" {
		system += "\n\n## Scheduled task context\n" + extraSystem
	}

	ctx = WithChatID(ctx, chatID)
	replied := false
	var finalText string

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		messages := BuildContext(ContextInput{
			SystemPrompt: system,
			Memories:     memories,
			Pins:         sess.Pins,
			Summaries:    sess.Summaries,
			History:      history,
		})

		var stream StreamCallback
		if onDelta != nil && !replied {
			stream = onDelta
		}
		resp, err := a.llm.Complete(ctx, CompletionRequest{
			Model:    a.modelFor(sess),
			Messages: messages,
			Tools:    a.executor.Definitions(),
			Stream:   stream,
		})
		if err != nil {
			if !replied {
				a.sessions.RemoveLastMessage(chatID, "user", userText)
			}
			return "", fmt.Errorf("turn failed: %w", err)
		}
		a.usage.Add(resp.Usage)

		assistantMsg := Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}
		if err := a.sessions.AppendMessage(chatID, assistantMsg); err != nil {
			a.logger.Warn("failed to persist assistant message", "chat_id", chatID, "error", err)
		}
		history = append(history, assistantMsg)
		if resp.Content != "" {
			finalText = resp.Content
			replied = true
		}

		if len(resp.ToolCalls) == 0 {
			a.maybeCompact(chatID)
			return finalText, nil
		}

		for _, call := range resp.ToolCalls {
			a.logger.Info("tool call",
				"chat_id", chatID,
				"tool", call.Function.Name,
				"iteration", iteration,
			)
			result := a.executor.Execute(ctx, call)
			toolMsg := Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				CreatedAt:  time.Now(),
			}
			if err := a.sessions.AppendMessage(chatID, toolMsg); err != nil {
				a.logger.Warn("failed to persist tool result", "chat_id", chatID, "error", err)
			}
			history = append(history, toolMsg)
		}
	}

	// Tool budget exhausted; tell the user rather than looping forever.
	a.logger.Warn("tool iteration limit reached", "chat_id", chatID)
	if finalText == "" {
		finalText = "I hit the tool call limit for a single message. Here is where I got; ask me to continue if needed."
		note := Message{Role: "assistant", Content: finalText, CreatedAt: time.Now()}
		if err := a.sessions.AppendMessage(chatID, note); err != nil {
			a.logger.Warn("failed to persist limit notice", "chat_id", chatID, "error", err)
		}
	}
	a.maybeCompact(chatID)
	return finalText, nil
}

// RunSystemTurn runs a turn initiated by the system (scheduler, heartbeat,
// briefing) rather than the user. The prompt is framed so the model knows
// no one just spoke; extra, when non-empty, is carried in the system prompt
// rather than the synthetic message.
func (a *Agent) RunSystemTurn(ctx context.Context, chatID int64, eventType, prompt, extra string) (string, error) {
	framed := fmt.Sprintf("[%s] %s", eventType, prompt)
	return a.runTurn(ctx, chatID, framed, extra, nil)
}

func (a *Agent) modelFor(sess *Session) string {
	if sess.ModelID != "" {
		return sess.ModelID
	}
	return a.llm.Model()
}

// systemPrompt combines the configured instructions with persona notes.
func (a *Agent) systemPrompt() string {
	base := SystemPrompt(a.cfg, time.Now())
	if persona := LoadPersona(a.cfg.DataDir); persona != "" {
		base += "\n\n## Persona notes\n" + persona
	}
	return base
}

// retrieveMemories runs hybrid retrieval for the user text. Failures and a
// disabled index both degrade to no memories.
func (a *Agent) retrieveMemories(ctx context.Context, query string) []string {
	if a.index == nil || !a.cfg.Memory.Enabled || strings.TrimSpace(query) == "" {
		return nil
	}
	hits := a.index.Retrieve(ctx, query, a.cfg.Memory.MaxResults)
	memories := make([]string, 0, len(hits))
	for _, hit := range hits {
		memories = append(memories, hit.Entry.Content)
	}
	return memories
}

// maybeCompact runs compaction off the turn path.
func (a *Agent) maybeCompact(chatID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := a.compactor.MaybeCompact(ctx, chatID); err != nil {
			a.logger.Warn("compaction failed", "chat_id", chatID, "error", err)
		}
	}()
}

// ---------- Usage Accounting ----------

// UsageTracker accumulates token usage across turns.
type UsageTracker struct {
	mu         sync.Mutex
	prompt     int
	completion int
	calls      int
	since      time.Time
}

// UsageSnapshot is a point-in-time copy of accumulated usage.
type UsageSnapshot struct {
	PromptTokens     int
	CompletionTokens int
	Calls            int
	Since            time.Time
}

// Add records one completion's usage.
func (u *UsageTracker) Add(usage LLMUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.since.IsZero() {
		u.since = time.Now()
	}
	u.prompt += usage.PromptTokens
	u.completion += usage.CompletionTokens
	u.calls++
}

// Snapshot returns the current totals.
func (u *UsageTracker) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		PromptTokens:     u.prompt,
		CompletionTokens: u.completion,
		Calls:            u.calls,
		Since:            u.since,
	}
}
