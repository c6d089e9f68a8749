// Package scheduler implements the task scheduling system for Maru: cron
// jobs and one-shot reminders driven by a single second-precision tick.
// robfig/cron provides expression parsing and next-fire computation; the
// tick loop, next_run_at bookkeeping and persistence are owned here so that
// missed ticks never backfill and restarts recompute schedules from scratch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is the timezone used when a job does not name one.
const DefaultTimezone = "Asia/Seoul"

const (
	// tickInterval is the scheduler timebase.
	tickInterval = time.Second

	// defaultJobTimeout bounds a single job execution.
	defaultJobTimeout = 5 * time.Minute

	// minJobInterval is the spin-loop guard: a job that ran more recently
	// than this is skipped even if marked due again.
	minJobInterval = 2 * time.Second
)

// PayloadKind selects how a fired job is dispatched.
type PayloadKind string

const (
	// PayloadSystemEvent posts a canned message keyed by EventType.
	PayloadSystemEvent PayloadKind = "system_event"

	// PayloadAgentTurn feeds Command through the agent pipeline.
	PayloadAgentTurn PayloadKind = "agent_turn"
)

// Job is a scheduled task.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// ChatID is the chat the job's output targets.
	ChatID int64 `json:"chat_id"`

	// Name is a human-readable label shown in listings.
	Name string `json:"name"`

	// Schedule is a cron expression, an @every interval, or (for one-shots)
	// an RFC3339 datetime.
	Schedule string `json:"schedule"`

	// OneShot marks an absolute-datetime job; it disables itself after firing.
	OneShot bool `json:"one_shot,omitempty"`

	// Kind selects the dispatch payload.
	Kind PayloadKind `json:"kind"`

	// Command is the synthetic user message for agent_turn jobs.
	Command string `json:"command,omitempty"`

	// EventType keys the canned message for system_event jobs.
	EventType string `json:"event_type,omitempty"`

	// Context is extra text: serialised into the system prompt for agent
	// turns, appended to the canned message for system events.
	Context string `json:"context,omitempty"`

	// Enabled indicates whether the job fires.
	Enabled bool `json:"enabled"`

	// Timezone is the IANA zone schedule evaluation happens in.
	Timezone string `json:"timezone,omitempty"`

	// MaxRuns disables the job once RunCount reaches it. Zero means unlimited.
	MaxRuns  int `json:"max_runs,omitempty"`
	RunCount int `json:"run_count"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	// NextRunAt is recomputed from Schedule on load, never trusted from disk.
	NextRunAt time.Time `json:"next_run_at"`
}

// JobHandler executes a fired job. Errors are logged; the job stays enabled.
type JobHandler func(ctx context.Context, job *Job) error

// ReminderHandler delivers a fired reminder's text to its chat.
type ReminderHandler func(ctx context.Context, reminder *Reminder)

// cronParser accepts five-field expressions plus @descriptors and @every.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns all cron jobs and reminders for the process.
type Scheduler struct {
	jobs      map[string]*Job
	running   map[string]bool
	reminders []*Reminder

	jobStorage      JobStorage
	reminderStorage ReminderStorage

	handler         JobHandler
	reminderHandler ReminderHandler

	jobTimeout time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler with the given storage and handlers.
func New(jobStorage JobStorage, reminderStorage ReminderStorage, handler JobHandler, reminderHandler ReminderHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:            make(map[string]*Job),
		running:         make(map[string]bool),
		jobStorage:      jobStorage,
		reminderStorage: reminderStorage,
		handler:         handler,
		reminderHandler: reminderHandler,
		jobTimeout:      defaultJobTimeout,
		logger:          logger.With("component", "scheduler"),
	}
}

// Start loads persisted state and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	now := time.Now()

	if s.jobStorage != nil {
		jobs, err := s.jobStorage.LoadAll()
		if err != nil {
			return fmt.Errorf("loading jobs: %w", err)
		}
		s.mu.Lock()
		for _, job := range jobs {
			// next_run_at always comes from the schedule, not the file.
			next, err := s.computeNext(job, now)
			if err != nil {
				s.logger.Warn("skipping job with invalid schedule",
					"id", job.ID, "schedule", job.Schedule, "error", err)
				continue
			}
			job.NextRunAt = next
			if job.OneShot && next.IsZero() {
				job.Enabled = false
			}
			s.jobs[job.ID] = job
		}
		s.mu.Unlock()
	}

	if s.reminderStorage != nil {
		reminders, err := s.reminderStorage.LoadAll()
		if err != nil {
			return fmt.Errorf("loading reminders: %w", err)
		}
		s.mu.Lock()
		s.reminders = reminders
		s.sortRemindersLocked()
		s.mu.Unlock()
	}

	go s.run()

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.logger.Info("scheduler started",
		"jobs", len(s.jobs),
		"reminders", len(s.reminders),
	)
	return nil
}

// Stop halts the tick loop. In-flight executions finish on their own.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Job management ----------

// Add registers and persists a new job. NextRunAt is computed immediately.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	if job.Kind == "" {
		job.Kind = PayloadAgentTurn
	}
	if job.Timezone == "" {
		job.Timezone = DefaultTimezone
	}
	job.CreatedAt = time.Now()

	next, err := s.computeNext(job, time.Now())
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	if next.IsZero() {
		return fmt.Errorf("schedule %q never fires", job.Schedule)
	}
	job.NextRunAt = next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.persistJobsLocked()

	s.logger.Info("job added",
		"id", job.ID,
		"schedule", job.Schedule,
		"next_run_at", job.NextRunAt.Format(time.RFC3339),
	)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	delete(s.jobs, jobID)
	s.persistJobsLocked()
	s.logger.Info("job removed", "id", jobID)
	return nil
}

// Toggle enables or disables a job. Enabling recomputes NextRunAt.
func (s *Scheduler) Toggle(jobID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	job.Enabled = enabled
	if enabled {
		next, err := s.computeNext(job, time.Now())
		if err != nil || next.IsZero() {
			job.Enabled = false
			return fmt.Errorf("schedule %q no longer fires", job.Schedule)
		}
		job.NextRunAt = next
	}
	s.persistJobsLocked()
	return nil
}

// Run triggers a job immediately, bypassing its schedule.
func (s *Scheduler) Run(jobID string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	go s.executeJob(job)
	return nil
}

// List returns all jobs sorted by next firing time.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// ---------- Tick loop ----------

func (s *Scheduler) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.onTick(now)
		}
	}
}

// onTick fires due jobs and reminders. Jobs execute sequentially within the
// tick; distinct ticks may overlap, with per-job single-flight enforced in
// executeJob.
func (s *Scheduler) onTick(now time.Time) {
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt.IsZero() || job.NextRunAt.After(now) {
			continue
		}
		due = append(due, job)

		// Advance before executing: a job down for an hour fires once and
		// re-computes the next boundary, it does not replay missed fires.
		next, err := s.computeNext(job, now)
		if err != nil || next.IsZero() {
			job.Enabled = false
			job.NextRunAt = time.Time{}
			continue
		}
		job.NextRunAt = next
	}
	if len(due) > 0 {
		sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
		s.persistJobsLocked()
	}
	dueReminders := s.takeDueRemindersLocked(now)
	s.mu.Unlock()

	if len(due) > 0 {
		go func() {
			for _, job := range due {
				s.executeJob(job)
			}
		}()
	}
	for _, r := range dueReminders {
		go s.fireReminder(r)
	}
}

// executeJob runs one job with single-flight, a spin-loop guard, panic
// recovery and a timeout.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (ran too recently)", "id", job.ID)
		return
	}
	s.running[job.ID] = true

	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	if job.OneShot || (job.MaxRuns > 0 && job.RunCount >= job.MaxRuns) {
		job.Enabled = false
	}
	s.persistJobsLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.mu.Lock()
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.persistJobsLocked()
			s.mu.Unlock()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
	}()

	if s.handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	s.logger.Info("executing scheduled job", "id", job.ID, "kind", string(job.Kind))
	err := s.handler(ctx, job)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.persistJobsLocked()
	s.mu.Unlock()

	if err != nil {
		// Failures do not disable the job; it fires again on schedule.
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err)
	}
}

// computeNext returns the first firing moment strictly after the given time,
// evaluated in the job's timezone. One-shots return their fixed moment, or
// zero once it has passed.
func (s *Scheduler) computeNext(job *Job, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(jobTimezone(job))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", job.Timezone, err)
	}

	if job.OneShot {
		at, err := time.ParseInLocation(time.RFC3339, job.Schedule, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid one-shot time: %w", err)
		}
		if !at.After(after) {
			return time.Time{}, nil
		}
		return at, nil
	}

	sched, err := cronParser.Parse(job.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

func jobTimezone(job *Job) string {
	if job.Timezone == "" {
		return DefaultTimezone
	}
	return job.Timezone
}

// persistJobsLocked saves all jobs. Caller holds s.mu.
func (s *Scheduler) persistJobsLocked() {
	if s.jobStorage == nil {
		return
	}
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	if err := s.jobStorage.SaveAll(jobs); err != nil {
		s.logger.Error("failed to persist jobs", "error", err)
	}
}
