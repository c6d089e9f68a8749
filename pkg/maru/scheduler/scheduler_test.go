package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recordingHandler counts job executions.
type recordingHandler struct {
	mu    sync.Mutex
	runs  []string
	block chan struct{}
}

func (h *recordingHandler) handle(_ context.Context, job *Job) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.runs = append(h.runs, job.ID)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

func newTestScheduler(t *testing.T, h JobHandler, rh ReminderHandler) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	jobStore, err := NewFileJobStorage(filepath.Join(dir, "cron", "jobs.json"))
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}
	remStore, err := NewFileReminderStorage(filepath.Join(dir, "reminders.json"))
	if err != nil {
		t.Fatalf("NewFileReminderStorage: %v", err)
	}
	s := New(jobStore, remStore, h, rh, nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestComputeNextIsStrictlyMonotonic(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	job := &Job{ID: "j1", Schedule: "*/5 * * * *", Timezone: "Asia/Seoul"}

	after := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	var prev time.Time
	for i := 0; i < 10; i++ {
		next, err := s.computeNext(job, after)
		if err != nil {
			t.Fatalf("computeNext: %v", err)
		}
		if !next.After(after) {
			t.Fatalf("next %s not after %s", next, after)
		}
		if !prev.IsZero() && !next.After(prev) {
			t.Fatalf("next %s not strictly after previous %s", next, prev)
		}
		prev = next
		after = next
	}
}

func TestComputeNextHonorsTimezone(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	job := &Job{ID: "j1", Schedule: "0 9 * * *", Timezone: "Asia/Seoul"}

	// 2026-08-24 01:00 UTC is 10:00 in Seoul, so 09:00 Seoul is tomorrow.
	after := time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)
	next, err := s.computeNext(job, after)
	if err != nil {
		t.Fatalf("computeNext: %v", err)
	}
	want := time.Date(2026, 8, 25, 9, 0, 0, 0, seoul(t))
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

func TestMissedTicksDoNotBackfill(t *testing.T) {
	h := &recordingHandler{}
	s := newTestScheduler(t, h.handle, nil)

	job := &Job{ID: "hourly", Schedule: "0 * * * *", Kind: PayloadAgentTurn, Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Simulate three missed fires: the job was due an hour ago.
	now := time.Now()
	s.mu.Lock()
	job.NextRunAt = now.Add(-time.Hour)
	s.mu.Unlock()

	s.onTick(now)
	waitFor(t, func() bool { return h.count() == 1 })

	s.mu.RLock()
	next := job.NextRunAt
	s.mu.RUnlock()
	if !next.After(now) {
		t.Errorf("NextRunAt = %s, want a future boundary", next)
	}

	// The immediately following tick must not fire again.
	s.onTick(now.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	if h.count() != 1 {
		t.Errorf("job fired %d times, want exactly 1", h.count())
	}
}

func TestMaxRunsDisablesJob(t *testing.T) {
	h := &recordingHandler{}
	s := newTestScheduler(t, h.handle, nil)

	job := &Job{ID: "limited", Schedule: "* * * * *", Kind: PayloadAgentTurn, Enabled: true, MaxRuns: 1}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.mu.Lock()
	job.NextRunAt = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.onTick(time.Now())
	waitFor(t, func() bool { return h.count() == 1 })

	s.mu.RLock()
	defer s.mu.RUnlock()
	if job.Enabled {
		t.Error("job still enabled after reaching max_runs")
	}
}

func TestOneShotFiresOnceAndDisables(t *testing.T) {
	h := &recordingHandler{}
	s := newTestScheduler(t, h.handle, nil)

	at := time.Now().Add(30 * time.Minute)
	job := &Job{
		ID:       "oneshot",
		Schedule: at.Format(time.RFC3339),
		OneShot:  true,
		Kind:     PayloadSystemEvent,
		Enabled:  true,
	}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !job.NextRunAt.Equal(at.Truncate(time.Second)) && !job.NextRunAt.Equal(at) {
		// RFC3339 round-trips to second precision.
		t.Errorf("NextRunAt = %s, want %s", job.NextRunAt, at)
	}

	s.onTick(at.Add(time.Second))
	waitFor(t, func() bool { return h.count() == 1 })

	s.mu.RLock()
	defer s.mu.RUnlock()
	if job.Enabled {
		t.Error("one-shot job still enabled after firing")
	}
}

func TestSingleFlightSuppressesOverlap(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	s := newTestScheduler(t, h.handle, nil)

	job := &Job{ID: "slow", Schedule: "* * * * *", Kind: PayloadAgentTurn, Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	go s.executeJob(job)
	waitFor(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.running["slow"]
	})

	// Second execution while the first is blocked must be suppressed.
	s.executeJob(job)

	close(h.block)
	waitFor(t, func() bool { return h.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if h.count() != 1 {
		t.Errorf("job executed %d times, want 1", h.count())
	}
}

func TestJobFailureKeepsJobEnabled(t *testing.T) {
	s := newTestScheduler(t, func(context.Context, *Job) error {
		return context.DeadlineExceeded
	}, nil)

	job := &Job{ID: "failing", Schedule: "* * * * *", Kind: PayloadAgentTurn, Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.executeJob(job)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !job.Enabled {
		t.Error("failed job was disabled")
	}
	if job.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestRemindersFireInOrderAndAreRemoved(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	s := newTestScheduler(t, nil, func(_ context.Context, r *Reminder) {
		mu.Lock()
		fired = append(fired, r.Text)
		mu.Unlock()
	})

	base := time.Now().Add(time.Hour)
	// Added out of order; the store keeps them sorted.
	if _, err := s.AddReminder(1, "second", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if _, err := s.AddReminder(1, "first", base.Add(time.Minute)); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if _, err := s.AddReminder(1, "later", base.Add(time.Hour)); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}

	s.mu.Lock()
	due := s.takeDueRemindersLocked(base.Add(5 * time.Minute))
	remaining := len(s.reminders)
	s.mu.Unlock()

	if len(due) != 2 {
		t.Fatalf("took %d due reminders, want 2", len(due))
	}
	if due[0].Text != "first" || due[1].Text != "second" {
		t.Errorf("due order = [%s, %s], want [first, second]", due[0].Text, due[1].Text)
	}
	if remaining != 1 {
		t.Errorf("%d reminders remain, want 1", remaining)
	}
}

func TestCancelReminder(t *testing.T) {
	s := newTestScheduler(t, nil, nil)

	r, err := s.AddReminder(1, "cancel me", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if err := s.CancelReminder(r.ID); err != nil {
		t.Fatalf("CancelReminder: %v", err)
	}
	if err := s.CancelReminder(r.ID); err == nil {
		t.Error("cancelling twice should fail")
	}
	if got := s.ListReminders(1); len(got) != 0 {
		t.Errorf("ListReminders = %d entries, want 0", len(got))
	}
}

func TestPersistedJobsRecomputeNextRunAt(t *testing.T) {
	dir := t.TempDir()
	jobStore, err := NewFileJobStorage(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}

	// Persist a job with a stale NextRunAt far in the past.
	stale := &Job{
		ID:        "persisted",
		Schedule:  "0 9 * * *",
		Kind:      PayloadAgentTurn,
		Enabled:   true,
		Timezone:  "Asia/Seoul",
		NextRunAt: time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := jobStore.SaveAll([]*Job{stale}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	s := New(jobStore, nil, nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	loaded, ok := s.Get("persisted")
	if !ok {
		t.Fatal("persisted job not loaded")
	}
	if !loaded.NextRunAt.After(time.Now()) {
		t.Errorf("NextRunAt = %s, want recomputed future time", loaded.NextRunAt)
	}
}
