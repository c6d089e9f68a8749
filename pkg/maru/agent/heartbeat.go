// Package agent – heartbeat.go implements the proactive heartbeat worker.
// On an interval, the small model reads HEARTBEAT.md and decides whether
// anything needs the user's attention. A reply of HEARTBEAT_OK means all
// quiet and nothing is sent. Checks run only inside the active hours.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// HeartbeatOK is the sentinel reply meaning nothing needs attention.
const HeartbeatOK = "HEARTBEAT_OK"

// heartbeatFileName is the checklist file under the data directory.
const heartbeatFileName = "HEARTBEAT.md"

// SendFunc delivers a message to a chat.
type SendFunc func(ctx context.Context, chatID int64, text string) error

// HeartbeatState is the per-chat heartbeat configuration and telemetry.
type HeartbeatState struct {
	ChatID          int64     `json:"chat_id"`
	Enabled         bool      `json:"enabled"`
	IntervalMinutes int       `json:"interval_minutes"`
	ActiveStart     int       `json:"active_start"`
	ActiveEnd       int       `json:"active_end"`
	LastRunAt       time.Time `json:"last_run_at"`

	// Telemetry, not persisted.
	LastResult string `json:"-"`
	TotalRuns  int    `json:"-"`
	Alerts     int    `json:"-"`
}

// HeartbeatWorker schedules and runs heartbeat checks.
type HeartbeatWorker struct {
	llm      *LLMClient
	send     SendFunc
	cfg      HeartbeatConfig
	timezone string
	dataDir  string

	mu      sync.Mutex
	states  map[int64]*HeartbeatState
	running map[int64]bool

	cancel context.CancelFunc
	logger *slog.Logger
}

// NewHeartbeatWorker creates the worker and loads persisted per-chat state.
func NewHeartbeatWorker(llm *LLMClient, send SendFunc, cfg *Config, logger *slog.Logger) *HeartbeatWorker {
	w := &HeartbeatWorker{
		llm:      llm,
		send:     send,
		cfg:      cfg.Heartbeat,
		timezone: cfg.Timezone,
		dataDir:  cfg.DataDir,
		states:   make(map[int64]*HeartbeatState),
		running:  make(map[int64]bool),
		logger:   logger.With("component", "heartbeat"),
	}
	w.load()
	return w
}

func (w *HeartbeatWorker) statePath() string {
	return filepath.Join(w.dataDir, "heartbeat.json")
}

func (w *HeartbeatWorker) load() {
	data, err := os.ReadFile(w.statePath())
	if err != nil {
		return
	}
	var states []*HeartbeatState
	if err := json.Unmarshal(data, &states); err != nil {
		w.logger.Warn("failed to parse heartbeat state", "error", err)
		return
	}
	for _, st := range states {
		w.states[st.ChatID] = st
	}
}

func (w *HeartbeatWorker) persistLocked() {
	states := make([]*HeartbeatState, 0, len(w.states))
	for _, st := range w.states {
		states = append(states, st)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return
	}
	tmp := w.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.logger.Warn("failed to persist heartbeat state", "error", err)
		return
	}
	if err := os.Rename(tmp, w.statePath()); err != nil {
		w.logger.Warn("failed to persist heartbeat state", "error", err)
	}
}

// Start begins the minute ticker.
func (w *HeartbeatWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				w.tick(ctx, now)
			}
		}
	}()
	w.logger.Info("heartbeat worker started")
}

// Stop halts the ticker and persists state. Run timing reaches disk only
// here; a LastRunAt lost to a crash just re-arms the next check.
func (w *HeartbeatWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	w.persistLocked()
	w.mu.Unlock()
}

// SetEnabled turns heartbeats on or off for a chat, creating state from the
// config defaults on first use.
func (w *HeartbeatWorker) SetEnabled(chatID int64, enabled bool, intervalMinutes int) *HeartbeatState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stateLocked(chatID)
	st.Enabled = enabled
	if intervalMinutes > 0 {
		st.IntervalMinutes = intervalMinutes
	}
	w.persistLocked()
	return st
}

// State returns the chat's heartbeat state.
func (w *HeartbeatWorker) State(chatID int64) *HeartbeatState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked(chatID)
}

func (w *HeartbeatWorker) stateLocked(chatID int64) *HeartbeatState {
	st, ok := w.states[chatID]
	if !ok {
		st = &HeartbeatState{
			ChatID:          chatID,
			IntervalMinutes: w.cfg.IntervalMinutes,
			ActiveStart:     w.cfg.ActiveStart,
			ActiveEnd:       w.cfg.ActiveEnd,
		}
		w.states[chatID] = st
	}
	return st
}

// tick runs due checks. Each chat is single-flight.
func (w *HeartbeatWorker) tick(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []*HeartbeatState
	for _, st := range w.states {
		if !st.Enabled || w.running[st.ChatID] {
			continue
		}
		interval := time.Duration(st.IntervalMinutes) * time.Minute
		if interval <= 0 {
			continue
		}
		if now.Sub(st.LastRunAt) < interval {
			continue
		}
		if !w.withinActiveHours(st, now) {
			continue
		}
		st.LastRunAt = now
		w.running[st.ChatID] = true
		due = append(due, st)
	}
	w.mu.Unlock()

	for _, st := range due {
		go func(st *HeartbeatState) {
			defer func() {
				w.mu.Lock()
				delete(w.running, st.ChatID)
				w.mu.Unlock()
			}()
			w.RunCheck(ctx, st.ChatID)
		}(st)
	}
}

func (w *HeartbeatWorker) withinActiveHours(st *HeartbeatState, now time.Time) bool {
	loc, err := time.LoadLocation(w.timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	start, end := st.ActiveStart, st.ActiveEnd
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	// Window crosses midnight.
	return hour >= start || hour < end
}

// RunCheck executes one heartbeat check now, regardless of schedule.
// Returns the model's raw verdict.
func (w *HeartbeatWorker) RunCheck(ctx context.Context, chatID int64) string {
	checklist, err := os.ReadFile(filepath.Join(w.dataDir, heartbeatFileName))
	if err != nil || len(strings.TrimSpace(string(checklist))) == 0 {
		w.recordResult(chatID, "no checklist", false)
		return "no checklist"
	}

	loc, err := time.LoadLocation(w.timezone)
	if err != nil {
		loc = time.UTC
	}
	prompt := fmt.Sprintf(
		"Current time: %s\n\nChecklist:\n%s\n\nGo through the checklist. If nothing needs the user's attention right now, reply with exactly %s and nothing else. Otherwise write one short friendly message telling the user what needs attention.",
		time.Now().In(loc).Format("2006-01-02 15:04 (Mon)"), string(checklist), HeartbeatOK,
	)

	resp, err := w.llm.Complete(ctx, CompletionRequest{
		Model: w.llm.SmallModel(),
		Messages: []Message{
			{Role: "system", Content: "You are a background check for a personal assistant. Be strict: only flag things that genuinely need attention now."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		w.logger.Warn("heartbeat check failed", "chat_id", chatID, "error", err)
		w.recordResult(chatID, "error: "+err.Error(), false)
		return "error"
	}

	verdict := strings.TrimSpace(resp.Content)
	if verdict == "" || strings.Contains(verdict, HeartbeatOK) {
		w.logger.Debug("heartbeat quiet", "chat_id", chatID)
		w.recordResult(chatID, HeartbeatOK, false)
		return HeartbeatOK
	}

	if err := w.send(ctx, chatID, verdict); err != nil {
		w.logger.Warn("heartbeat send failed", "chat_id", chatID, "error", err)
	}
	w.recordResult(chatID, verdict, true)
	return verdict
}

func (w *HeartbeatWorker) recordResult(chatID int64, result string, alerted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stateLocked(chatID)
	st.LastResult = result
	st.TotalRuns++
	if alerted {
		st.Alerts++
	}
}
