package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunTurnExecutesToolLoop(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{
				"choices": [{
					"message": {"content": "", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "lookup", "arguments": "{\"key\":\"answer\"}"}}]},
					"finish_reason": "tool_calls"
				}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
			}`)
			return
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "The answer is 42."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 6, "total_tokens": 26}
		}`)
	})

	var gotKey string
	a.executor.Register(&Tool{Name: "lookup", Run: func(ctx context.Context, args map[string]any) (string, error) {
		if id, ok := ChatIDFrom(ctx); !ok || id != 7 {
			t.Errorf("ChatIDFrom = %d, %v", id, ok)
		}
		gotKey = stringArg(args, "key")
		return "42", nil
	}})

	reply, err := a.RunTurn(context.Background(), 7, "what is the answer?", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply != "The answer is 42." {
		t.Errorf("reply = %q", reply)
	}
	if gotKey != "answer" {
		t.Errorf("tool arg key = %q", gotKey)
	}

	sess := a.sessions.Snapshot(7)
	roles := make([]string, len(sess.History))
	for i, m := range sess.History {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("history roles = %v, want %v", roles, want)
	}
	if sess.History[2].ToolCallID != "c1" {
		t.Errorf("tool result ToolCallID = %q", sess.History[2].ToolCallID)
	}

	usage := a.Usage()
	if usage.PromptTokens != 30 || usage.CompletionTokens != 8 || usage.Calls != 2 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestRunTurnRollsBackUserMessageOnFailure(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "broken"}}`)
	})

	if _, err := a.RunTurn(context.Background(), 1, "hello", nil); err == nil {
		t.Fatal("expected turn error")
	}
	if got := len(a.sessions.Snapshot(1).History); got != 0 {
		t.Errorf("history = %d messages after failed turn, want 0", got)
	}
}

func TestRunTurnStopsAtIterationCap(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{
			"choices": [{
				"message": {"content": "", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "spin", "arguments": "{}"}}]},
				"finish_reason": "tool_calls"
			}]
		}`)
	})
	a.executor.Register(&Tool{Name: "spin", Run: func(context.Context, map[string]any) (string, error) {
		return "again", nil
	}})

	reply, err := a.RunTurn(context.Background(), 1, "loop forever", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !strings.Contains(reply, "limit") {
		t.Errorf("reply = %q, want limit notice", reply)
	}
	if n := calls.Load(); n != MaxToolIterations {
		t.Errorf("LLM calls = %d, want %d", n, MaxToolIterations)
	}
}

func TestRunTurnStreamsDeltas(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \" there\"}, \"finish_reason\": \"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var accumulated string
	reply, err := a.RunTurn(context.Background(), 1, "hi", func(_, acc string) {
		accumulated = acc
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply != "hi there" || accumulated != "hi there" {
		t.Errorf("reply = %q, accumulated = %q", reply, accumulated)
	}
}

func TestRunSystemTurnCarriesContextInSystemPrompt(t *testing.T) {
	var mu sync.Mutex
	var messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		mu.Lock()
		messages = req.Messages
		mu.Unlock()
		fmt.Fprint(w, `{"choices": [{"message": {"content": "done"}, "finish_reason": "stop"}]}`)
	})

	reply, err := a.RunSystemTurn(context.Background(), 1, "scheduled task: plants", "water the plants", "the balcony plants need water twice a week")
	if err != nil {
		t.Fatalf("RunSystemTurn: %v", err)
	}
	if reply != "done" {
		t.Errorf("reply = %q", reply)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) < 2 {
		t.Fatalf("messages = %d", len(messages))
	}
	system := messages[0]
	if system.Role != "system" || !strings.Contains(system.Content, "the balcony plants need water twice a week") {
		t.Errorf("system prompt missing job context: %q", system.Content)
	}
	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "[scheduled task: plants] water the plants" {
		t.Errorf("synthetic message = %q %q", last.Role, last.Content)
	}
}

func TestRetrieveMemoriesDisabledIndex(t *testing.T) {
	a := newTestAgent(t, nil)
	if got := a.retrieveMemories(context.Background(), "anything"); got != nil {
		t.Errorf("retrieveMemories = %v, want nil without an index", got)
	}
}
