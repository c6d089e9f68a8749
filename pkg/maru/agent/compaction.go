// Package agent – compaction.go condenses long histories. When the history
// estimate crosses the threshold, everything but the most recent messages
// is summarized by the small model and stored as a summary chunk. A failed
// summary call leaves the session untouched.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// KeepOnCompact is how many recent messages survive a compaction.
	KeepOnCompact = 10

	// MaxSummaryChunks caps stored summary chunks; beyond it the two
	// oldest chunks are merged.
	MaxSummaryChunks = 5
)

// Compactor condenses session histories with the small model.
type Compactor struct {
	llm      *LLMClient
	sessions *SessionStore
	logger   *slog.Logger
}

// NewCompactor creates a compactor.
func NewCompactor(llm *LLMClient, sessions *SessionStore, logger *slog.Logger) *Compactor {
	return &Compactor{
		llm:      llm,
		sessions: sessions,
		logger:   logger.With("component", "compaction"),
	}
}

// MaybeCompact compacts the session when its history estimate crosses the
// threshold. Returns true when a compaction ran.
func (c *Compactor) MaybeCompact(ctx context.Context, chatID int64) (bool, error) {
	sess := c.sessions.Snapshot(chatID)
	if EstimateHistoryTokens(sess.History) < SummaryThresholdTokens {
		return false, nil
	}
	if err := c.Compact(ctx, chatID); err != nil {
		return false, err
	}
	return true, nil
}

// Compact summarizes all but the most recent messages and replaces them
// with a summary chunk. On any failure the history is left as it was.
func (c *Compactor) Compact(ctx context.Context, chatID int64) error {
	sess := c.sessions.Snapshot(chatID)
	if len(sess.History) <= KeepOnCompact {
		return fmt.Errorf("history too short to compact (%d messages)", len(sess.History))
	}

	cut := len(sess.History) - KeepOnCompact
	cut = alignToTurnBoundary(sess.History, cut)
	if cut <= 0 || cut >= len(sess.History) {
		return fmt.Errorf("no compactable prefix")
	}
	old, recent := sess.History[:cut], sess.History[cut:]

	summary, err := c.summarize(ctx, old)
	if err != nil {
		return fmt.Errorf("summarizing history: %w", err)
	}

	summaries := append(append([]string(nil), sess.Summaries...), summary)
	for len(summaries) > MaxSummaryChunks {
		merged, err := c.mergeSummaries(ctx, summaries[0], summaries[1])
		if err != nil {
			return fmt.Errorf("merging summaries: %w", err)
		}
		summaries = append([]string{merged}, summaries[2:]...)
	}

	if err := c.sessions.ReplaceHistory(chatID, recent, summaries); err != nil {
		return err
	}
	c.logger.Info("history compacted",
		"chat_id", chatID,
		"summarized", len(old),
		"kept", len(recent),
		"chunks", len(summaries),
	)
	return nil
}

// summarize condenses messages into a short factual summary.
func (c *Compactor) summarize(ctx context.Context, messages []Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "user":
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case "assistant":
			if m.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Assistant used tool %s\n", tc.Function.Name)
			}
		}
	}

	resp, err := c.llm.Complete(ctx, CompletionRequest{
		Model: c.llm.SmallModel(),
		Messages: []Message{
			{Role: "system", Content: "Summarize this conversation in 3-5 sentences. Keep names, dates, decisions and open tasks. Write in the conversation's language."},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("empty summary from model")
	}
	return resp.Content, nil
}

// mergeSummaries folds two summary chunks into one.
func (c *Compactor) mergeSummaries(ctx context.Context, a, b string) (string, error) {
	resp, err := c.llm.Complete(ctx, CompletionRequest{
		Model: c.llm.SmallModel(),
		Messages: []Message{
			{Role: "system", Content: "Merge these two conversation summaries into one summary of at most 5 sentences. Keep names, dates, decisions and open tasks."},
			{Role: "user", Content: a + "\n\n" + b},
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("empty merged summary from model")
	}
	return resp.Content, nil
}
