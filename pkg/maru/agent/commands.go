// Package agent – commands.go implements slash commands. Commands bypass
// the LLM entirely and answer from local state.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// HandleCommand processes a slash command. Returns the reply and whether
// the text was a command at all.
func (a *Agent) HandleCommand(ctx context.Context, chatID int64, text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/clear":
		if err := a.sessions.Clear(chatID); err != nil {
			return "Failed to clear: " + err.Error(), true
		}
		return "Conversation cleared. Pins are kept.", true

	case "/compact":
		if err := a.compactor.Compact(ctx, chatID); err != nil {
			return "Compaction failed: " + err.Error(), true
		}
		sess := a.sessions.Snapshot(chatID)
		return fmt.Sprintf("History compacted: %d messages kept, %d summary chunks.",
			len(sess.History), len(sess.Summaries)), true

	case "/model":
		if rest == "" {
			sess := a.sessions.Snapshot(chatID)
			current := sess.ModelID
			if current == "" {
				current = a.llm.Model() + " (default)"
			}
			return "Current model: " + current + "\nUse /model <name> to switch, /model reset to restore the default.", true
		}
		if rest == "reset" {
			rest = ""
		}
		if err := a.sessions.SetModel(chatID, rest); err != nil {
			return "Failed to set model: " + err.Error(), true
		}
		if rest == "" {
			return "Model reset to default (" + a.llm.Model() + ").", true
		}
		return "Model set to " + rest + ".", true

	case "/pin":
		if rest == "" {
			return "Usage: /pin <text to keep in every prompt>", true
		}
		if err := a.sessions.Pin(chatID, rest); err != nil {
			return "Failed to pin: " + err.Error(), true
		}
		return "Pinned.", true

	case "/pins":
		sess := a.sessions.Snapshot(chatID)
		if len(sess.Pins) == 0 {
			return "No pins. Use /pin <text> to add one.", true
		}
		var b strings.Builder
		for i, p := range sess.Pins {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		return b.String(), true

	case "/unpin":
		index, err := strconv.Atoi(rest)
		if err != nil {
			return "Usage: /unpin <number> (see /pins)", true
		}
		if err := a.sessions.Unpin(chatID, index); err != nil {
			return "Failed to unpin: " + err.Error(), true
		}
		return "Unpinned.", true

	case "/health":
		sess := a.sessions.Snapshot(chatID)
		usage := a.usage.Snapshot()
		var b strings.Builder
		fmt.Fprintf(&b, "Model: %s\n", a.modelFor(sess))
		fmt.Fprintf(&b, "History: %d messages (~%d tokens)\n",
			len(sess.History), EstimateHistoryTokens(sess.History))
		fmt.Fprintf(&b, "Pins: %d, summary chunks: %d\n", len(sess.Pins), len(sess.Summaries))
		fmt.Fprintf(&b, "LLM calls: %d (prompt %d / completion %d tokens)",
			usage.Calls, usage.PromptTokens, usage.CompletionTokens)
		if !usage.Since.IsZero() {
			fmt.Fprintf(&b, " since %s", usage.Since.Format("01-02 15:04"))
		}
		return b.String(), true

	case "/help":
		return strings.Join([]string{
			"/clear - clear the conversation (pins kept)",
			"/compact - summarize older history now",
			"/model [name|reset] - show or switch the model",
			"/pin <text> - keep a note in every prompt",
			"/pins - list pins",
			"/unpin <n> - remove a pin",
			"/health - session and usage status",
		}, "\n"), true
	}
	return "", false
}
