package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type sendRecorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *sendRecorder) send(_ context.Context, _ int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestHeartbeat(t *testing.T, handler http.HandlerFunc) (*HeartbeatWorker, *sendRecorder, string) {
	t.Helper()
	llm := newTestLLM(t, handler)
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	rec := &sendRecorder{}
	w := NewHeartbeatWorker(llm, rec.send, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return w, rec, cfg.DataDir
}

func TestRunCheckQuietOnSentinel(t *testing.T) {
	w, rec, dir := newTestHeartbeat(t, func(rw http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(rw, `{"choices": [{"message": {"content": "HEARTBEAT_OK"}, "finish_reason": "stop"}]}`)
	})
	if err := os.WriteFile(filepath.Join(dir, heartbeatFileName), []byte("- check the plants"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	verdict := w.RunCheck(context.Background(), 1)
	if verdict != HeartbeatOK {
		t.Errorf("verdict = %q", verdict)
	}
	if rec.count() != 0 {
		t.Errorf("sent %d messages, want 0", rec.count())
	}
	if st := w.State(1); st.TotalRuns != 1 || st.Alerts != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestRunCheckSendsAlert(t *testing.T) {
	w, rec, dir := newTestHeartbeat(t, func(rw http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(rw, `{"choices": [{"message": {"content": "Water the plants today!"}, "finish_reason": "stop"}]}`)
	})
	if err := os.WriteFile(filepath.Join(dir, heartbeatFileName), []byte("- check the plants"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w.RunCheck(context.Background(), 1)
	if rec.count() != 1 {
		t.Fatalf("sent %d messages, want 1", rec.count())
	}
	if st := w.State(1); st.Alerts != 1 {
		t.Errorf("Alerts = %d", st.Alerts)
	}
}

func TestRunCheckSkipsWithoutChecklist(t *testing.T) {
	w, rec, _ := newTestHeartbeat(t, func(rw http.ResponseWriter, _ *http.Request) {
		t.Error("LLM called without a checklist")
	})

	verdict := w.RunCheck(context.Background(), 1)
	if verdict != "no checklist" {
		t.Errorf("verdict = %q", verdict)
	}
	if rec.count() != 0 {
		t.Errorf("sent %d messages", rec.count())
	}
}

func TestWithinActiveHours(t *testing.T) {
	w, _, _ := newTestHeartbeat(t, nil)
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		start, end int
		hour       int
		want       bool
	}{
		{9, 22, 12, true},
		{9, 22, 8, false},
		{9, 22, 22, false},
		{22, 7, 23, true}, // window across midnight
		{22, 7, 3, true},
		{22, 7, 12, false},
		{0, 0, 4, true}, // equal bounds mean always active
	}
	for _, tt := range tests {
		st := &HeartbeatState{ActiveStart: tt.start, ActiveEnd: tt.end}
		now := time.Date(2026, 8, 24, tt.hour, 30, 0, 0, seoul)
		if got := w.withinActiveHours(st, now); got != tt.want {
			t.Errorf("withinActiveHours(start=%d end=%d hour=%d) = %v, want %v",
				tt.start, tt.end, tt.hour, got, tt.want)
		}
	}
}

func TestHeartbeatTimingPersistsOnStopOnly(t *testing.T) {
	w, _, dir := newTestHeartbeat(t, nil)
	w.SetEnabled(5, true, 15)

	ran := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	w.mu.Lock()
	w.stateLocked(5).LastRunAt = ran
	w.mu.Unlock()

	reload := func() *HeartbeatState {
		cfg := DefaultConfig()
		cfg.DataDir = dir
		fresh := NewHeartbeatWorker(w.llm, (&sendRecorder{}).send, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		return fresh.State(5)
	}

	if st := reload(); !st.LastRunAt.IsZero() {
		t.Errorf("LastRunAt reached disk before Stop: %v", st.LastRunAt)
	}
	w.Stop()
	if st := reload(); !st.LastRunAt.Equal(ran) {
		t.Errorf("LastRunAt after Stop = %v, want %v", st.LastRunAt, ran)
	}
}

func TestHeartbeatStatePersists(t *testing.T) {
	w, _, dir := newTestHeartbeat(t, nil)
	w.SetEnabled(5, true, 15)

	llm := w.llm
	cfg := DefaultConfig()
	cfg.DataDir = dir
	fresh := NewHeartbeatWorker(llm, (&sendRecorder{}).send, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	st := fresh.State(5)
	if !st.Enabled || st.IntervalMinutes != 15 {
		t.Errorf("reloaded state = %+v", st)
	}
}
