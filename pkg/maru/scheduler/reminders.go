// Package scheduler – reminders.go implements one-shot reminders. Reminders
// live in a slice kept sorted by firing time; due ones are taken off the
// front on each tick and removed permanently once fired.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Reminder is a one-shot notification.
type Reminder struct {
	ID          string    `json:"id"`
	ChatID      int64     `json:"chat_id"`
	Text        string    `json:"text"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddReminder registers and persists a new reminder.
func (s *Scheduler) AddReminder(chatID int64, text string, at time.Time) (*Reminder, error) {
	if text == "" {
		return nil, fmt.Errorf("reminder text is required")
	}
	if !at.After(time.Now()) {
		return nil, fmt.Errorf("reminder time %s is in the past", at.Format(time.RFC3339))
	}

	r := &Reminder{
		ID:          uuid.NewString()[:8],
		ChatID:      chatID,
		Text:        text,
		ScheduledAt: at,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, r)
	s.sortRemindersLocked()
	s.persistRemindersLocked()

	s.logger.Info("reminder added",
		"id", r.ID,
		"chat_id", chatID,
		"scheduled_at", at.Format(time.RFC3339),
	)
	return r, nil
}

// ListReminders returns a chat's pending reminders, soonest first.
func (s *Scheduler) ListReminders(chatID int64) []*Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Reminder
	for _, r := range s.reminders {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	}
	return out
}

// CancelReminder removes a pending reminder by ID.
func (s *Scheduler) CancelReminder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.reminders {
		if r.ID == id {
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
			s.persistRemindersLocked()
			s.logger.Info("reminder cancelled", "id", id)
			return nil
		}
	}
	return fmt.Errorf("reminder %q not found", id)
}

// takeDueRemindersLocked removes and returns reminders due at now.
// Caller holds s.mu. The slice is sorted, so due entries sit at the front.
func (s *Scheduler) takeDueRemindersLocked(now time.Time) []*Reminder {
	cut := 0
	for cut < len(s.reminders) && !s.reminders[cut].ScheduledAt.After(now) {
		cut++
	}
	if cut == 0 {
		return nil
	}
	due := make([]*Reminder, cut)
	copy(due, s.reminders[:cut])
	s.reminders = s.reminders[cut:]
	s.persistRemindersLocked()
	return due
}

// fireReminder delivers one reminder through the handler.
func (s *Scheduler) fireReminder(r *Reminder) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reminder handler panicked", "id", r.ID, "panic", p)
		}
	}()

	s.logger.Info("reminder fired", "id", r.ID, "chat_id", r.ChatID)
	if s.reminderHandler != nil {
		s.reminderHandler(s.ctx, r)
	}
}

func (s *Scheduler) sortRemindersLocked() {
	sort.Slice(s.reminders, func(i, j int) bool {
		return s.reminders[i].ScheduledAt.Before(s.reminders[j].ScheduledAt)
	})
}

func (s *Scheduler) persistRemindersLocked() {
	if s.reminderStorage == nil {
		return
	}
	if err := s.reminderStorage.SaveAll(s.reminders); err != nil {
		s.logger.Error("failed to persist reminders", "error", err)
	}
}
