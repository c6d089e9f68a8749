// Package agent – briefing.go implements the daily briefing worker. Once a
// day at the configured local time it gathers weather, today's calendar and
// pending reminders, has the small model write a short morning note, and
// sends it. A date stamp guards against double sends across restarts.
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

	"github.com/marubot/maru/pkg/maru/external"
	"github.com/marubot/maru/pkg/maru/scheduler"
)

// BriefingState is the per-chat briefing configuration.
type BriefingState struct {
	ChatID       int64  `json:"chat_id"`
	Enabled      bool   `json:"enabled"`
	TimeOfDay    string `json:"time_of_day"` // "HH:MM" local
	Location     string `json:"location"`
	LastSentDate string `json:"last_sent_date"` // "2006-01-02" local
}

// BriefingWorker sends the daily briefing.
type BriefingWorker struct {
	llm      *LLMClient
	send     SendFunc
	weather  *external.WeatherClient
	calendar external.Calendar
	sched    *scheduler.Scheduler
	cfg      BriefingConfig
	timezone string
	dataDir  string

	mu     sync.Mutex
	states map[int64]*BriefingState

	cancel context.CancelFunc
	logger *slog.Logger
}

// NewBriefingWorker creates the worker and loads persisted per-chat state.
func NewBriefingWorker(llm *LLMClient, send SendFunc, weather *external.WeatherClient, calendar external.Calendar, sched *scheduler.Scheduler, cfg *Config, logger *slog.Logger) *BriefingWorker {
	w := &BriefingWorker{
		llm:      llm,
		send:     send,
		weather:  weather,
		calendar: calendar,
		sched:    sched,
		cfg:      cfg.Briefing,
		timezone: cfg.Timezone,
		dataDir:  cfg.DataDir,
		states:   make(map[int64]*BriefingState),
		logger:   logger.With("component", "briefing"),
	}
	w.load()
	return w
}

func (w *BriefingWorker) statePath() string {
	return filepath.Join(w.dataDir, "briefing.json")
}

func (w *BriefingWorker) load() {
	data, err := os.ReadFile(w.statePath())
	if err != nil {
		return
	}
	var states []*BriefingState
	if err := json.Unmarshal(data, &states); err != nil {
		w.logger.Warn("failed to parse briefing state", "error", err)
		return
	}
	for _, st := range states {
		w.states[st.ChatID] = st
	}
}

func (w *BriefingWorker) persistLocked() {
	states := make([]*BriefingState, 0, len(w.states))
	for _, st := range w.states {
		states = append(states, st)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return
	}
	tmp := w.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.logger.Warn("failed to persist briefing state", "error", err)
		return
	}
	if err := os.Rename(tmp, w.statePath()); err != nil {
		w.logger.Warn("failed to persist briefing state", "error", err)
	}
}

// Start begins the minute ticker.
func (w *BriefingWorker) Start(ctx context.Context) {
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
	w.logger.Info("briefing worker started")
}

// Stop halts the ticker.
func (w *BriefingWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// SetEnabled turns the daily briefing on or off for a chat.
func (w *BriefingWorker) SetEnabled(chatID int64, enabled bool, timeOfDay, location string) *BriefingState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stateLocked(chatID)
	st.Enabled = enabled
	if timeOfDay != "" {
		st.TimeOfDay = timeOfDay
	}
	if location != "" {
		st.Location = location
	}
	w.persistLocked()
	return st
}

// State returns the chat's briefing state.
func (w *BriefingWorker) State(chatID int64) *BriefingState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked(chatID)
}

func (w *BriefingWorker) stateLocked(chatID int64) *BriefingState {
	st, ok := w.states[chatID]
	if !ok {
		st = &BriefingState{
			ChatID:    chatID,
			TimeOfDay: w.cfg.TimeOfDay,
			Location:  w.cfg.Location,
		}
		w.states[chatID] = st
	}
	return st
}

func (w *BriefingWorker) location() *time.Location {
	loc, err := time.LoadLocation(w.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// tick sends briefings whose local send time has passed and that have not
// been sent today.
func (w *BriefingWorker) tick(ctx context.Context, now time.Time) {
	local := now.In(w.location())
	today := local.Format("2006-01-02")
	clock := local.Format("15:04")

	w.mu.Lock()
	var due []*BriefingState
	for _, st := range w.states {
		if !st.Enabled || st.LastSentDate == today {
			continue
		}
		if clock < st.TimeOfDay {
			continue
		}
		st.LastSentDate = today
		due = append(due, st)
	}
	if len(due) > 0 {
		w.persistLocked()
	}
	w.mu.Unlock()

	for _, st := range due {
		go w.SendNow(ctx, st.ChatID)
	}
}

// SendNow composes and sends the briefing immediately.
func (w *BriefingWorker) SendNow(ctx context.Context, chatID int64) error {
	st := w.State(chatID)
	loc := w.location()
	now := time.Now().In(loc)

	var sections []string

	if weather, err := w.weather.Current(ctx, st.Location); err == nil {
		sections = append(sections, "Weather:\n"+weather)
	} else {
		w.logger.Warn("briefing weather failed", "chat_id", chatID, "error", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if events, err := w.calendar.Events(ctx, dayStart, dayStart.AddDate(0, 0, 1)); err == nil && len(events) > 0 {
		var b strings.Builder
		b.WriteString("Today's events:\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "- %s %s", ev.Start.In(loc).Format("15:04"), ev.Title)
			if ev.Location != "" {
				fmt.Fprintf(&b, " @ %s", ev.Location)
			}
			b.WriteByte('\n')
		}
		sections = append(sections, b.String())
	}

	if reminders := w.sched.ListReminders(chatID); len(reminders) > 0 {
		var b strings.Builder
		b.WriteString("Pending reminders:\n")
		for _, r := range reminders {
			fmt.Fprintf(&b, "- %s %s\n", r.ScheduledAt.In(loc).Format("01-02 15:04"), r.Text)
		}
		sections = append(sections, b.String())
	}

	material := strings.Join(sections, "\n")
	if material == "" {
		material = "(no weather, events or reminders available)"
	}

	resp, err := w.llm.Complete(ctx, CompletionRequest{
		Model: w.llm.SmallModel(),
		Messages: []Message{
			{Role: "system", Content: "Write a short, warm morning briefing from this material. A few sentences, no headings. Use the user's language; default to Korean."},
			{Role: "user", Content: fmt.Sprintf("Date: %s\n\n%s", now.Format("2006-01-02 (Mon)"), material)},
		},
	})
	if err != nil {
		w.logger.Warn("briefing generation failed", "chat_id", chatID, "error", err)
		return err
	}

	if err := w.send(ctx, chatID, resp.Content); err != nil {
		w.logger.Warn("briefing send failed", "chat_id", chatID, "error", err)
		return err
	}
	w.logger.Info("briefing sent", "chat_id", chatID)
	return nil
}
