// Package external – calendar.go implements the calendar adapter. The core
// consumes the Calendar interface; the default implementation is a local
// JSON file written atomically.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single calendar entry.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Calendar is the capability the tools and the briefing worker consume.
type Calendar interface {
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
	Add(ctx context.Context, event Event) (Event, error)
	Delete(ctx context.Context, id string) error
}

// FileCalendar stores events in a single JSON file.
type FileCalendar struct {
	path string
	mu   sync.Mutex
}

// NewFileCalendar creates a calendar backed by the given JSON file.
func NewFileCalendar(path string) (*FileCalendar, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating calendar directory: %w", err)
	}
	return &FileCalendar{path: path}, nil
}

// Events returns events overlapping [from, to), sorted by start time.
func (c *FileCalendar) Events(_ context.Context, from, to time.Time) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.load()
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, e := range all {
		end := e.End
		if end.IsZero() {
			end = e.Start
		}
		if e.Start.Before(to) && !end.Before(from) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Add stores a new event, assigning an ID when missing.
func (c *FileCalendar) Add(_ context.Context, event Event) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.Title == "" {
		return Event{}, fmt.Errorf("event title is required")
	}
	if event.Start.IsZero() {
		return Event{}, fmt.Errorf("event start time is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()[:8]
	}

	all, err := c.load()
	if err != nil {
		return Event{}, err
	}
	all = append(all, event)
	if err := c.save(all); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Delete removes an event by ID.
func (c *FileCalendar) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.load()
	if err != nil {
		return err
	}
	kept := all[:0]
	found := false
	for _, e := range all {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return fmt.Errorf("event %q not found", id)
	}
	return c.save(kept)
}

// load reads all events; a missing file yields an empty calendar.
func (c *FileCalendar) load() ([]Event, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading calendar: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}
	return events, nil
}

// save writes the full event list atomically (write-temp then rename).
func (c *FileCalendar) save(events []Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calendar: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	return os.Rename(tmp, c.path)
}
