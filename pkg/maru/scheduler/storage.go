// Package scheduler – storage.go implements JSON persistence for cron jobs
// and reminders. All writes are atomic (write-temp then rename).
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JobStorage persists the full job list.
type JobStorage interface {
	SaveAll(jobs []*Job) error
	LoadAll() ([]*Job, error)
}

// ReminderStorage persists the full reminder list.
type ReminderStorage interface {
	SaveAll(reminders []*Reminder) error
	LoadAll() ([]*Reminder, error)
}

// FileJobStorage stores jobs in a single JSON file.
type FileJobStorage struct {
	path string
}

// NewFileJobStorage creates job storage at the given path, creating parent
// directories as needed.
func NewFileJobStorage(path string) (*FileJobStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating job storage directory: %w", err)
	}
	return &FileJobStorage{path: path}, nil
}

func (s *FileJobStorage) SaveAll(jobs []*Job) error {
	return writeJSONAtomic(s.path, jobs)
}

func (s *FileJobStorage) LoadAll() ([]*Job, error) {
	var jobs []*Job
	if err := readJSON(s.path, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FileReminderStorage stores reminders in a single JSON file.
type FileReminderStorage struct {
	path string
}

// NewFileReminderStorage creates reminder storage at the given path.
func NewFileReminderStorage(path string) (*FileReminderStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating reminder storage directory: %w", err)
	}
	return &FileReminderStorage{path: path}, nil
}

func (s *FileReminderStorage) SaveAll(reminders []*Reminder) error {
	return writeJSONAtomic(s.path, reminders)
}

func (s *FileReminderStorage) LoadAll() ([]*Reminder, error) {
	var reminders []*Reminder
	if err := readJSON(s.path, &reminders); err != nil {
		return nil, err
	}
	return reminders, nil
}

// writeJSONAtomic marshals v and replaces path via a temp file rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON unmarshals path into v; a missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
