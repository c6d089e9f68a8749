// Package agent – contextbuild.go assembles the prompt for one turn.
// Ordering is fixed: system prompt, retrieved memories, pins, summaries,
// then conversation history. When the budget is tight only history is
// trimmed, oldest first, and a trim never separates an assistant tool call
// from its tool results.
package agent

import (
	"fmt"
	"strings"
	"time"
)

// MinRecentMessages is the floor of history messages kept even when the
// budget is exceeded.
const MinRecentMessages = 4

// ContextInput is everything that feeds one assembled prompt.
type ContextInput struct {
	SystemPrompt string
	Memories     []string
	Pins         []string
	Summaries    []string
	History      []Message
}

// BuildContext assembles the message list for the LLM call, trimming history
// from the front to fit MaxContextTokens.
func BuildContext(in ContextInput) []Message {
	system := composeSystem(in)
	budget := MaxContextTokens - EstimateTokens(system)

	history := in.History
	if budget < 0 {
		budget = 0
	}
	history = trimHistory(history, budget)

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	return messages
}

// composeSystem folds memories, pins and summaries into the system prompt.
// These sections are never trimmed.
func composeSystem(in ContextInput) string {
	var b strings.Builder
	b.WriteString(in.SystemPrompt)

	if len(in.Memories) > 0 {
		b.WriteString("\n\n## Relevant memories\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(in.Pins) > 0 {
		b.WriteString("\n## Pinned notes\n")
		for i, p := range in.Pins {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
	}
	if len(in.Summaries) > 0 {
		b.WriteString("\n## Earlier conversation, summarized\n")
		for _, s := range in.Summaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

// trimHistory drops the oldest messages until the estimate fits the budget,
// always keeping at least MinRecentMessages and never cutting between an
// assistant message with tool calls and the tool results that answer it.
func trimHistory(history []Message, budget int) []Message {
	start := 0
	for start < len(history)-MinRecentMessages {
		if EstimateHistoryTokens(history[start:]) <= budget {
			break
		}
		start++
	}
	start = alignToTurnBoundary(history, start)
	return history[start:]
}

// alignToTurnBoundary moves the cut forward past any orphaned tool results,
// so the window never opens mid tool exchange.
func alignToTurnBoundary(history []Message, start int) int {
	for start < len(history) && history[start].Role == "tool" {
		start++
	}
	// An assistant message that only carries tool calls is useless without
	// the preceding user turn; skip it too.
	for start < len(history) && history[start].Role == "assistant" && len(history[start].ToolCalls) > 0 {
		start++
		for start < len(history) && history[start].Role == "tool" {
			start++
		}
	}
	return start
}

// SystemPrompt renders the base system prompt for a chat.
func SystemPrompt(cfg *Config, now time.Time) string {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString(cfg.Instructions)
	fmt.Fprintf(&b, "\n\nCurrent time: %s", now.In(loc).Format("2006-01-02 15:04 (Mon) MST"))
	if cfg.Language != "" {
		fmt.Fprintf(&b, "\nPreferred language: %s", cfg.Language)
	}
	b.WriteString("\nKeep replies concise; this is a chat interface.")
	return b.String()
}
