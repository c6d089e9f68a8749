package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func seedHistory(t *testing.T, a *Agent, chatID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := a.sessions.AppendMessage(chatID, Message{Role: role, Content: fmt.Sprintf("message %d", i)}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
}

func TestCompactKeepsRecentAndAddsSummary(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "They discussed many things."}, "finish_reason": "stop"}]}`)
	})
	seedHistory(t, a, 1, 30)

	if err := a.Compact(context.Background(), 1); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	sess := a.sessions.Snapshot(1)
	if len(sess.History) != KeepOnCompact {
		t.Errorf("history = %d messages, want %d", len(sess.History), KeepOnCompact)
	}
	if len(sess.Summaries) != 1 || sess.Summaries[0] != "They discussed many things." {
		t.Errorf("summaries = %v", sess.Summaries)
	}
	// The kept tail is the most recent messages.
	if got := sess.History[len(sess.History)-1].Content; got != "message 29" {
		t.Errorf("last kept message = %q", got)
	}
}

func TestCompactFailureLeavesHistoryUntouched(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "nope"}}`)
	})
	seedHistory(t, a, 1, 30)

	if err := a.Compact(context.Background(), 1); err == nil {
		t.Fatal("expected compaction error")
	}
	sess := a.sessions.Snapshot(1)
	if len(sess.History) != 30 {
		t.Errorf("history = %d messages, want 30", len(sess.History))
	}
	if len(sess.Summaries) != 0 {
		t.Errorf("summaries = %v, want none", sess.Summaries)
	}
}

func TestCompactMergesChunksPastTheCap(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "condensed"}, "finish_reason": "stop"}]}`)
	})
	seedHistory(t, a, 1, 30)

	// Preload the chunk cap; the next compaction must merge down to it.
	existing := make([]string, MaxSummaryChunks)
	for i := range existing {
		existing[i] = fmt.Sprintf("old summary %d", i)
	}
	sess := a.sessions.Snapshot(1)
	if err := a.sessions.ReplaceHistory(1, sess.History, existing); err != nil {
		t.Fatalf("ReplaceHistory: %v", err)
	}

	if err := a.Compact(context.Background(), 1); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	got := a.sessions.Snapshot(1)
	if len(got.Summaries) != MaxSummaryChunks {
		t.Errorf("summaries = %d chunks, want %d", len(got.Summaries), MaxSummaryChunks)
	}
	if got.Summaries[0] != "condensed" {
		t.Errorf("Summaries[0] = %q, want merged chunk", got.Summaries[0])
	}
}

func TestMaybeCompactBelowThresholdIsANoOp(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("model called below the compaction threshold")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "unwanted"}, "finish_reason": "stop"}]}`)
	})
	seedHistory(t, a, 1, 30)

	ran, err := a.compactor.MaybeCompact(context.Background(), 1)
	if err != nil {
		t.Fatalf("MaybeCompact: %v", err)
	}
	if ran {
		t.Error("compaction ran below the threshold")
	}
	sess := a.sessions.Snapshot(1)
	if len(sess.History) != 30 || len(sess.Summaries) != 0 {
		t.Errorf("history = %d, summaries = %d", len(sess.History), len(sess.Summaries))
	}
}

func TestMaybeCompactTriggersPastThreshold(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "A long conversation happened."}, "finish_reason": "stop"}]}`)
	})

	// Bulky turns push the history estimate past the threshold.
	filler := strings.Repeat("filler ", 4000)
	for i := 0; i < 16; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := a.sessions.AppendMessage(1, Message{Role: role, Content: fmt.Sprintf("%s %d", filler, i)}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if est := EstimateHistoryTokens(a.sessions.Snapshot(1).History); est < SummaryThresholdTokens {
		t.Fatalf("estimate = %d, below the %d threshold", est, SummaryThresholdTokens)
	}

	ran, err := a.compactor.MaybeCompact(context.Background(), 1)
	if err != nil {
		t.Fatalf("MaybeCompact: %v", err)
	}
	if !ran {
		t.Fatal("compaction did not run past the threshold")
	}
	sess := a.sessions.Snapshot(1)
	if len(sess.History) != KeepOnCompact {
		t.Errorf("history = %d messages, want %d", len(sess.History), KeepOnCompact)
	}
	if len(sess.Summaries) != 1 || sess.Summaries[0] != "A long conversation happened." {
		t.Errorf("summaries = %v", sess.Summaries)
	}
}

func TestCompactRejectsShortHistory(t *testing.T) {
	a := newTestAgent(t, nil)
	seedHistory(t, a, 1, 5)
	if err := a.Compact(context.Background(), 1); err == nil {
		t.Fatal("short history compacted")
	}
}
