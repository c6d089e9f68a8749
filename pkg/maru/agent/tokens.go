// Package agent – tokens.go implements the token estimator used for context
// budgeting. Counts whitespace-delimited tokens with a small overhead
// multiplier; the LLM's own tokenizer is never consulted, this is only for
// deciding when to trim and compact.
package agent

import "strings"

// Token budget constants, in estimated tokens.
const (
	// MaxContextTokens is the assembled prompt ceiling.
	MaxContextTokens = 200000

	// MaxHistoryTokens triggers compaction when history grows past it.
	MaxHistoryTokens = 80000

	// MaxPinnedTokens bounds the total size of pins per session.
	MaxPinnedTokens = 8000

	// SummaryThresholdTokens is where auto-compaction starts considering
	// the history worth condensing.
	SummaryThresholdTokens = 60000
)

// tokenOverheadMultiplier inflates the whitespace count to approximate
// subword tokenization.
const tokenOverheadMultiplier = 1.3

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(float64(words)*tokenOverheadMultiplier) + 1
}

// EstimateMessageTokens approximates the token count of a message,
// including a small per-message framing overhead.
func EstimateMessageTokens(m Message) int {
	n := EstimateTokens(m.Content) + 4
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Function.Name) + EstimateTokens(tc.Function.Arguments)
	}
	return n
}

// EstimateHistoryTokens sums message estimates.
func EstimateHistoryTokens(history []Message) int {
	total := 0
	for _, m := range history {
		total += EstimateMessageTokens(m)
	}
	return total
}
