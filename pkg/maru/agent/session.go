// Package agent – session.go implements the in-memory session store. One
// session per chat, lazily rehydrated from the JSONL log, evicted LRU when
// the table fills or the idle TTL passes. A session that is mid-turn is
// never evicted.
package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// MaxSessions caps resident sessions before LRU eviction.
	MaxSessions = 64

	// SessionTTL evicts sessions idle longer than this.
	SessionTTL = 72 * time.Hour

	// MaxPins caps the number of pins per chat.
	MaxPins = 50
)

// Session holds the conversation state for one chat. All fields are guarded
// by the owning store's mutex.
type Session struct {
	ChatID       int64
	History      []Message
	Pins         []string
	Summaries    []string
	ModelID      string
	LastActiveAt time.Time

	// busy counts turns in flight. User and scheduled turns can overlap
	// on one chat; the session stays eviction-exempt until every turn
	// has ended.
	busy int
}

// SessionStore owns all resident sessions.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[int64]*Session
	persister *SessionPersister
	logger    *slog.Logger
}

// NewSessionStore creates a store backed by the given persister.
func NewSessionStore(persister *SessionPersister, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		sessions:  make(map[int64]*Session),
		persister: persister,
		logger:    logger.With("component", "sessions"),
	}
}

// getOrCreateLocked returns the session for chatID, rehydrating from disk on
// first access. Double-checked by callers holding only the read lock.
func (s *SessionStore) getOrCreateLocked(chatID int64) *Session {
	if sess, ok := s.sessions[chatID]; ok {
		return sess
	}

	sess := &Session{ChatID: chatID, LastActiveAt: time.Now()}

	history, err := s.persister.LoadHistory(chatID)
	if err != nil {
		s.logger.Warn("failed to load session history", "chat_id", chatID, "error", err)
	} else {
		sess.History = history
	}
	state, err := s.persister.LoadPins(chatID)
	if err != nil {
		s.logger.Warn("failed to load pins", "chat_id", chatID, "error", err)
	} else {
		sess.Pins = state.Pins
		sess.Summaries = state.Summaries
		sess.ModelID = state.ModelID
	}

	s.evictLocked(time.Now())
	s.sessions[chatID] = sess
	s.logger.Debug("session loaded", "chat_id", chatID, "history", len(sess.History), "pins", len(sess.Pins))
	return sess
}

// evictLocked drops idle sessions past their TTL, then LRU-evicts until the
// table is under MaxSessions. Busy sessions stay resident.
func (s *SessionStore) evictLocked(now time.Time) {
	for id, sess := range s.sessions {
		if sess.busy == 0 && now.Sub(sess.LastActiveAt) > SessionTTL {
			delete(s.sessions, id)
			s.logger.Debug("session expired", "chat_id", id)
		}
	}
	for len(s.sessions) >= MaxSessions {
		var (
			oldestID int64
			oldest   time.Time
			found    bool
		)
		for id, sess := range s.sessions {
			if sess.busy > 0 {
				continue
			}
			if !found || sess.LastActiveAt.Before(oldest) {
				oldestID, oldest, found = id, sess.LastActiveAt, true
			}
		}
		if !found {
			return
		}
		delete(s.sessions, oldestID)
		s.logger.Debug("session evicted", "chat_id", oldestID)
	}
}

// BeginTurn marks the session busy and returns a snapshot of its state.
// State on disk is the source of truth; the snapshot is safe to read
// without holding the store lock.
func (s *SessionStore) BeginTurn(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(chatID)
	sess.busy++
	sess.LastActiveAt = time.Now()
	return snapshot(sess)
}

// EndTurn releases one BeginTurn.
func (s *SessionStore) EndTurn(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[chatID]; ok {
		if sess.busy > 0 {
			sess.busy--
		}
		sess.LastActiveAt = time.Now()
	}
}

func snapshot(sess *Session) *Session {
	cp := &Session{
		ChatID:       sess.ChatID,
		History:      append([]Message(nil), sess.History...),
		Pins:         append([]string(nil), sess.Pins...),
		Summaries:    append([]string(nil), sess.Summaries...),
		ModelID:      sess.ModelID,
		LastActiveAt: sess.LastActiveAt,
	}
	return cp
}

// Snapshot returns a copy of the session without marking it busy.
func (s *SessionStore) Snapshot(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.getOrCreateLocked(chatID))
}

// AppendMessage appends a message to the session history and the durable
// log.
func (s *SessionStore) AppendMessage(chatID int64, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	sess := s.getOrCreateLocked(chatID)
	sess.History = append(sess.History, msg)
	sess.LastActiveAt = time.Now()
	s.mu.Unlock()

	if err := s.persister.AppendMessage(chatID, msg); err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	return nil
}

// RemoveLastMessage drops the most recent history entry if it matches role
// and content. Used to roll back a user message when the turn fails before
// any reply is produced.
func (s *SessionStore) RemoveLastMessage(chatID int64, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok || len(sess.History) == 0 {
		return
	}
	last := sess.History[len(sess.History)-1]
	if last.Role != role || last.Content != content {
		return
	}
	sess.History = sess.History[:len(sess.History)-1]
	if err := s.persister.Rewrite(chatID, sess.History); err != nil {
		s.logger.Warn("failed to roll back session log", "chat_id", chatID, "error", err)
	}
}

// ReplaceHistory swaps the session history and summaries, rewriting the
// durable log. Used after compaction.
func (s *SessionStore) ReplaceHistory(chatID int64, history []Message, summaries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(chatID)

	if err := s.persister.Rewrite(chatID, history); err != nil {
		return fmt.Errorf("rewriting session log: %w", err)
	}
	if err := s.persister.SavePins(chatID, pinnedState{
		Pins: sess.Pins, Summaries: summaries, ModelID: sess.ModelID,
	}); err != nil {
		return fmt.Errorf("persisting summaries: %w", err)
	}
	sess.History = history
	sess.Summaries = summaries
	return nil
}

// Clear resets the conversation history and summaries. Pins survive.
func (s *SessionStore) Clear(chatID int64) error {
	return s.ReplaceHistory(chatID, nil, nil)
}

// Pin adds a pinned note for the chat. Fails when the pin budget is full.
func (s *SessionStore) Pin(chatID int64, text string) error {
	if text == "" {
		return fmt.Errorf("pin text is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(chatID)

	if len(sess.Pins) >= MaxPins {
		return fmt.Errorf("pin limit reached (%d)", MaxPins)
	}
	total := EstimateTokens(text)
	for _, p := range sess.Pins {
		total += EstimateTokens(p)
	}
	if total > MaxPinnedTokens {
		return fmt.Errorf("pins exceed the %d token budget; remove one first", MaxPinnedTokens)
	}

	sess.Pins = append(sess.Pins, text)
	return s.persister.SavePins(chatID, pinnedState{
		Pins: sess.Pins, Summaries: sess.Summaries, ModelID: sess.ModelID,
	})
}

// Unpin removes the pin at the 1-based index.
func (s *SessionStore) Unpin(chatID int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(chatID)

	if index < 1 || index > len(sess.Pins) {
		return fmt.Errorf("no pin #%d (have %d)", index, len(sess.Pins))
	}
	sess.Pins = append(sess.Pins[:index-1], sess.Pins[index:]...)
	return s.persister.SavePins(chatID, pinnedState{
		Pins: sess.Pins, Summaries: sess.Summaries, ModelID: sess.ModelID,
	})
}

// SetModel records a per-chat model override. Empty restores the default.
func (s *SessionStore) SetModel(chatID int64, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(chatID)
	sess.ModelID = model
	return s.persister.SavePins(chatID, pinnedState{
		Pins: sess.Pins, Summaries: sess.Summaries, ModelID: model,
	})
}

// ActiveChats lists resident chat IDs, most recently active first.
func (s *SessionStore) ActiveChats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type entry struct {
		id int64
		at time.Time
	}
	entries := make([]entry, 0, len(s.sessions))
	for id, sess := range s.sessions {
		entries = append(entries, entry{id, sess.LastActiveAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}
