// Package history keeps the ordered chat log of a single session. The log
// is best-effort: read problems yield an empty log and write problems are
// logged, never returned.
package history

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/storage"
)

// DefaultWindow is the number of turns used as conversational context.
const DefaultWindow = 6

// Store opens and clears per-session history logs.
type Store struct {
	kv     storage.Store
	logger *zap.Logger
}

// NewStore returns a Store backed by kv.
func NewStore(kv storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger.Named("history")}
}

// Load returns the persisted entries of a session, or an empty slice.
func (s *Store) Load(ctx context.Context, userKey, sessionID string) []chat.HistoryEntry {
	var entries []chat.HistoryEntry
	err := storage.GetJSON(ctx, s.kv, storage.HistoryKey(userKey, sessionID), &entries)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("history unreadable, starting empty", zap.String("session", sessionID), zap.Error(err))
		}
		return []chat.HistoryEntry{}
	}
	if entries == nil {
		return []chat.HistoryEntry{}
	}
	return entries
}

// Open loads a session's entries into a Log bound to that session.
func (s *Store) Open(ctx context.Context, userKey, sessionID string) *Log {
	return &Log{
		store:     s,
		userKey:   userKey,
		sessionID: sessionID,
		entries:   s.Load(ctx, userKey, sessionID),
	}
}

// Clear deletes the persisted log of a session.
func (s *Store) Clear(ctx context.Context, userKey, sessionID string) {
	if err := s.kv.Delete(ctx, storage.HistoryKey(userKey, sessionID)); err != nil {
		s.logger.Warn("clear history failed", zap.String("session", sessionID), zap.Error(err))
	}
}

func (s *Store) persist(ctx context.Context, userKey, sessionID string, entries []chat.HistoryEntry) {
	if err := storage.SetJSON(ctx, s.kv, storage.HistoryKey(userKey, sessionID), entries); err != nil {
		s.logger.Warn("persist history failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// Log is the in-memory history of one session, written through to storage.
type Log struct {
	store     *Store
	userKey   string
	sessionID string

	mu      sync.Mutex
	entries []chat.HistoryEntry
}

// SessionID returns the session the log belongs to.
func (l *Log) SessionID() string {
	return l.sessionID
}

// Append adds entry and persists the full sequence.
func (l *Log) Append(ctx context.Context, entry chat.HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	l.store.persist(ctx, l.userKey, l.sessionID, l.entries)
}

// Clear drops all entries and deletes the persisted key.
func (l *Log) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = []chat.HistoryEntry{}
	l.store.Clear(ctx, l.userKey, l.sessionID)
}

// Entries returns a copy of the log.
func (l *Log) Entries() []chat.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]chat.HistoryEntry, len(l.entries))
	copy(copied, l.entries)
	return copied
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RecentWindow returns the last n entries (DefaultWindow when n <= 0). When
// the newest entry in the window is a user turn whose text equals
// excludeIfEcho it is left out, so a query never appears in its own context.
func (l *Log) RecentWindow(n int, excludeIfEcho string) []chat.HistoryEntry {
	if n <= 0 {
		n = DefaultWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if len(l.entries) > n {
		start = len(l.entries) - n
	}
	window := make([]chat.HistoryEntry, len(l.entries)-start)
	copy(window, l.entries[start:])

	if last := len(window) - 1; last >= 0 && excludeIfEcho != "" {
		tail := window[last]
		if tail.Role == chat.RoleUser && tail.Text == excludeIfEcho {
			window = window[:last]
		}
	}
	return window
}
