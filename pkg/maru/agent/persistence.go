// Package agent – persistence.go implements the durable session log. Each
// chat gets an append-only JSONL file under sessions/, fsynced per append,
// plus a pins file under pins/. Corrupt lines are skipped on load so a
// truncated write never blocks rehydration.
package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxHistoryLoad caps how many messages rehydrate from disk per session.
const MaxHistoryLoad = 200

// SessionPersister stores session history and pins on disk.
type SessionPersister struct {
	sessionsDir string
	pinsDir     string
}

// NewSessionPersister creates the sessions/ and pins/ directories under
// dataDir.
func NewSessionPersister(dataDir string) (*SessionPersister, error) {
	p := &SessionPersister{
		sessionsDir: filepath.Join(dataDir, "sessions"),
		pinsDir:     filepath.Join(dataDir, "pins"),
	}
	for _, dir := range []string{p.sessionsDir, p.pinsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return p, nil
}

func (p *SessionPersister) historyPath(chatID int64) string {
	return filepath.Join(p.sessionsDir, fmt.Sprintf("%d.jsonl", chatID))
}

func (p *SessionPersister) pinsPath(chatID int64) string {
	return filepath.Join(p.pinsDir, fmt.Sprintf("%d.json", chatID))
}

// AppendMessage appends one message to the chat's JSONL log and fsyncs.
func (p *SessionPersister) AppendMessage(chatID int64, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	f, err := os.OpenFile(p.historyPath(chatID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing session log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing session log: %w", err)
	}
	return nil
}

// LoadHistory reads the chat's log, returning at most MaxHistoryLoad of the
// most recent messages. Unparseable lines are skipped.
func (p *SessionPersister) LoadHistory(chatID int64) ([]Message, error) {
	f, err := os.Open(p.historyPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	var history []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		history = append(history, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}

	if len(history) > MaxHistoryLoad {
		history = history[len(history)-MaxHistoryLoad:]
	}
	return history, nil
}

// Rewrite replaces the chat's log with the given history. Used after
// compaction and /clear so the on-disk log matches memory. The old log is
// kept as a timestamped backup.
func (p *SessionPersister) Rewrite(chatID int64, history []Message) error {
	path := p.historyPath(chatID)

	if _, err := os.Stat(path); err == nil {
		backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("backing up session log: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating session log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, msg := range history {
		line, err := json.Marshal(msg)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshaling message: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing session log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing session log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing session log: %w", err)
	}
	return os.Rename(tmp, path)
}

// pinnedState is the on-disk shape of pins and summaries.
type pinnedState struct {
	Pins      []string `json:"pins"`
	Summaries []string `json:"summaries"`
	ModelID   string   `json:"model_id,omitempty"`
}

// SavePins persists pins, summaries and the model override for a chat.
func (p *SessionPersister) SavePins(chatID int64, state pinnedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pins: %w", err)
	}
	tmp := p.pinsPath(chatID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing pins: %w", err)
	}
	return os.Rename(tmp, p.pinsPath(chatID))
}

// LoadPins reads pins for a chat. A missing file returns the zero state.
func (p *SessionPersister) LoadPins(chatID int64) (pinnedState, error) {
	var state pinnedState
	data, err := os.ReadFile(p.pinsPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("reading pins: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return pinnedState{}, fmt.Errorf("parsing pins: %w", err)
	}
	return state, nil
}
