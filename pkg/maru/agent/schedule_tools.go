// Package agent – schedule_tools.go registers reminder, calendar and cron
// tools. Schedule text is parsed with the natural language parser, so both
// "매일 아침 9시" and raw cron expressions work.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marubot/maru/pkg/maru/external"
	"github.com/marubot/maru/pkg/maru/scheduler"
)

// RegisterScheduleTools adds reminder, calendar and cron job tools.
func RegisterScheduleTools(e *ToolExecutor, sched *scheduler.Scheduler, calendar external.Calendar, timezone string) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	e.Register(&Tool{
		Name:        "set_reminder",
		Description: "Set a reminder. Accepts natural language times like '내일 오후 2시' or 'tomorrow at 9am'. Recurring phrases like '매일 아침 9시' create a repeating reminder.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "What to remind about"},
				"when": {"type": "string", "description": "When to remind, natural language or cron"}
			},
			"required": ["text", "when"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			text, err := requiredStringArg(args, "text")
			if err != nil {
				return "", err
			}
			when, err := requiredStringArg(args, "when")
			if err != nil {
				return "", err
			}

			parsed, err := scheduler.ParseSchedule(when, time.Now().In(loc), loc)
			if err != nil {
				return "", err
			}
			if parsed.OneShot {
				r, err := sched.AddReminder(chatID, text, parsed.At)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Reminder %s set for %s", r.ID, r.ScheduledAt.In(loc).Format("2006-01-02 15:04")), nil
			}

			job := &scheduler.Job{
				ID:       uuid.NewString()[:8],
				ChatID:   chatID,
				Name:     "reminder: " + text,
				Schedule: parsed.Expr,
				Kind:     scheduler.PayloadAgentTurn,
				Command:  "Remind the user: " + text,
				Enabled:  true,
				Timezone: timezone,
			}
			if err := sched.Add(job); err != nil {
				return "", err
			}
			return fmt.Sprintf("Recurring reminder %s created (%s), next at %s",
				job.ID, job.Schedule, job.NextRunAt.In(loc).Format("2006-01-02 15:04")), nil
		},
	})

	e.Register(&Tool{
		Name:        "list_reminders",
		Description: "List pending reminders for this chat.",
		Run: func(ctx context.Context, _ map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			reminders := sched.ListReminders(chatID)
			if len(reminders) == 0 {
				return "No pending reminders.", nil
			}
			var b strings.Builder
			for _, r := range reminders {
				fmt.Fprintf(&b, "%s  %s  %s\n", r.ID, r.ScheduledAt.In(loc).Format("2006-01-02 15:04"), r.Text)
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "cancel_reminder",
		Description: "Cancel a pending reminder by id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reminder_id": {"type": "string"}
			},
			"required": ["reminder_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "reminder_id")
			if err != nil {
				return "", err
			}
			if err := sched.CancelReminder(id); err != nil {
				return "", err
			}
			return "Reminder cancelled.", nil
		},
	})

	// ---------- Calendar ----------

	e.Register(&Tool{
		Name:        "get_calendar_events",
		Description: "List calendar events in a date range. Defaults to the next 7 days.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"from": {"type": "string", "description": "Start date YYYY-MM-DD"},
				"to": {"type": "string", "description": "End date YYYY-MM-DD, inclusive"}
			}
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			now := time.Now().In(loc)
			from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
			to := from.AddDate(0, 0, 7)
			if v := stringArg(args, "from"); v != "" {
				parsed, err := time.ParseInLocation("2006-01-02", v, loc)
				if err != nil {
					return "", fmt.Errorf("invalid from date %q", v)
				}
				from = parsed
			}
			if v := stringArg(args, "to"); v != "" {
				parsed, err := time.ParseInLocation("2006-01-02", v, loc)
				if err != nil {
					return "", fmt.Errorf("invalid to date %q", v)
				}
				to = parsed.AddDate(0, 0, 1)
			}

			events, err := calendar.Events(ctx, from, to)
			if err != nil {
				return "", err
			}
			if len(events) == 0 {
				return "No events in that range.", nil
			}
			var b strings.Builder
			for _, ev := range events {
				fmt.Fprintf(&b, "%s  %s", ev.Start.In(loc).Format("01-02 (Mon) 15:04"), ev.Title)
				if ev.Location != "" {
					fmt.Fprintf(&b, " @ %s", ev.Location)
				}
				fmt.Fprintf(&b, "  [%s]\n", ev.ID)
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "add_calendar_event",
		Description: "Add a calendar event. Times accept natural language like '내일 오후 3시'.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"start": {"type": "string", "description": "Start time, natural language or YYYY-MM-DD HH:MM"},
				"duration_minutes": {"type": "integer", "description": "Default 60"},
				"location": {"type": "string"},
				"notes": {"type": "string"}
			},
			"required": ["title", "start"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			title, err := requiredStringArg(args, "title")
			if err != nil {
				return "", err
			}
			startText, err := requiredStringArg(args, "start")
			if err != nil {
				return "", err
			}
			parsed, err := scheduler.ParseSchedule(startText, time.Now().In(loc), loc)
			if err != nil {
				return "", fmt.Errorf("could not parse start time %q: %w", startText, err)
			}
			if !parsed.OneShot {
				return "", fmt.Errorf("start time %q is recurring; give a single point in time", startText)
			}
			duration := time.Duration(intArg(args, "duration_minutes", 60)) * time.Minute

			ev, err := calendar.Add(ctx, external.Event{
				Title:    title,
				Start:    parsed.At,
				End:      parsed.At.Add(duration),
				Location: stringArg(args, "location"),
				Notes:    stringArg(args, "notes"),
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Event %s added: %s at %s", ev.ID, ev.Title, ev.Start.In(loc).Format("2006-01-02 15:04")), nil
		},
	})

	e.Register(&Tool{
		Name:        "delete_calendar_event",
		Description: "Delete a calendar event by id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"event_id": {"type": "string"}
			},
			"required": ["event_id"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "event_id")
			if err != nil {
				return "", err
			}
			if err := calendar.Delete(ctx, id); err != nil {
				return "", err
			}
			return "Event deleted.", nil
		},
	})

	// ---------- Cron Jobs ----------

	e.Register(&Tool{
		Name:        "add_cron",
		Description: "Create a scheduled job that runs a prompt on a schedule. Schedules accept natural language ('매일 아침 8시'), cron expressions, or one-shot times.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"schedule": {"type": "string"},
				"prompt": {"type": "string", "description": "What the assistant should do when the job fires"},
				"max_runs": {"type": "integer", "description": "Disable after this many runs, 0 = unlimited"}
			},
			"required": ["name", "schedule", "prompt"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			name, err := requiredStringArg(args, "name")
			if err != nil {
				return "", err
			}
			scheduleText, err := requiredStringArg(args, "schedule")
			if err != nil {
				return "", err
			}
			prompt, err := requiredStringArg(args, "prompt")
			if err != nil {
				return "", err
			}

			parsed, err := scheduler.ParseSchedule(scheduleText, time.Now().In(loc), loc)
			if err != nil {
				return "", err
			}
			job := &scheduler.Job{
				ID:       uuid.NewString()[:8],
				ChatID:   chatID,
				Name:     name,
				Kind:     scheduler.PayloadAgentTurn,
				Command:  prompt,
				Enabled:  true,
				Timezone: timezone,
				MaxRuns:  intArg(args, "max_runs", 0),
			}
			if parsed.OneShot {
				job.Schedule = parsed.At.Format(time.RFC3339)
				job.OneShot = true
			} else {
				job.Schedule = parsed.Expr
			}
			if err := sched.Add(job); err != nil {
				return "", err
			}
			return fmt.Sprintf("Job %s (%s) created, next run %s",
				job.ID, job.Name, job.NextRunAt.In(loc).Format("2006-01-02 15:04")), nil
		},
	})

	e.Register(&Tool{
		Name:        "list_crons",
		Description: "List scheduled jobs.",
		Run: func(context.Context, map[string]any) (string, error) {
			jobs := sched.List()
			if len(jobs) == 0 {
				return "No scheduled jobs.", nil
			}
			var b strings.Builder
			for _, job := range jobs {
				state := "on"
				if !job.Enabled {
					state = "off"
				}
				fmt.Fprintf(&b, "%s [%s] %s  (%s)  next=%s runs=%d",
					job.ID, state, job.Name, job.Schedule,
					job.NextRunAt.In(loc).Format("01-02 15:04"), job.RunCount)
				if job.LastError != "" {
					fmt.Fprintf(&b, "  last_error=%s", job.LastError)
				}
				b.WriteByte('\n')
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "remove_cron",
		Description: "Delete a scheduled job by id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job_id": {"type": "string"}
			},
			"required": ["job_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "job_id")
			if err != nil {
				return "", err
			}
			if err := sched.Remove(id); err != nil {
				return "", err
			}
			return "Job removed.", nil
		},
	})

	e.Register(&Tool{
		Name:        "toggle_cron",
		Description: "Enable or disable a scheduled job.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job_id": {"type": "string"},
				"enabled": {"type": "boolean"}
			},
			"required": ["job_id", "enabled"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "job_id")
			if err != nil {
				return "", err
			}
			enabled := boolArg(args, "enabled")
			if err := sched.Toggle(id, enabled); err != nil {
				return "", err
			}
			if enabled {
				return "Job enabled.", nil
			}
			return "Job disabled.", nil
		},
	})

	e.Register(&Tool{
		Name:        "run_cron",
		Description: "Run a scheduled job immediately, outside its schedule.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job_id": {"type": "string"}
			},
			"required": ["job_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "job_id")
			if err != nil {
				return "", err
			}
			if err := sched.Run(id); err != nil {
				return "", err
			}
			return "Job started.", nil
		},
	})
}
