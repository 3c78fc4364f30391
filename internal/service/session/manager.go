// Package session owns the lifetime of a user's widget session. Expiry is
// evaluated lazily whenever the session is read; nothing runs in the
// background.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/storage"
)

// DefaultTTL is the absolute lifetime of a session, measured from StartedAt.
const DefaultTTL = 20 * time.Minute

// Manager creates, renews and persists sessions.
type Manager struct {
	store  storage.Store
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager returns a Manager backed by store. A non-positive ttl selects
// DefaultTTL.
func NewManager(store storage.Store, ttl time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: logger.Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// LoadOrCreate returns the stored session for userKey, or a fresh one when
// none is stored, the record is unreadable, or it has expired.
func (m *Manager) LoadOrCreate(ctx context.Context, userKey, pageCitySlug string) (chat.Session, bool) {
	var stored chat.Session
	err := storage.GetJSON(ctx, m.store, storage.SessionKey(userKey), &stored)
	switch {
	case err == nil && stored.ID != "":
		if !stored.Expired(m.now(), m.ttl) {
			return stored, false
		}
		m.discardHistory(ctx, userKey, stored.ID)
	case errors.Is(err, storage.ErrCorrupt):
		m.logger.Warn("discarding unreadable session", zap.String("user", userKey), zap.Error(err))
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		m.logger.Warn("session lookup failed", zap.String("user", userKey), zap.Error(err))
	}

	return m.create(ctx, userKey, pageCitySlug), true
}

// Touch records activity on the session and persists it.
func (m *Manager) Touch(ctx context.Context, userKey string, s *chat.Session) {
	s.LastActivity = m.now()
	m.save(ctx, userKey, *s)
}

// SetActiveCity records the city the conversation is about.
func (m *Manager) SetActiveCity(ctx context.Context, userKey string, s *chat.Session, slug string) {
	if slug == "" || s.ActiveCitySlug == slug {
		return
	}
	s.ActiveCitySlug = slug
	m.save(ctx, userKey, *s)
}

// EnsureActive re-checks the TTL before an outgoing message. An expired
// session has its history discarded and is replaced; renewed reports that.
func (m *Manager) EnsureActive(ctx context.Context, userKey string, s chat.Session, pageCitySlug string) (chat.Session, bool) {
	if s.ID != "" && !s.Expired(m.now(), m.ttl) {
		return s, false
	}

	if s.ID != "" {
		m.logger.Info("session expired",
			zap.String("user", userKey),
			zap.String("session", s.ID),
			zap.Time("startedAt", s.StartedAt),
		)
		m.discardHistory(ctx, userKey, s.ID)
	}

	slug := pageCitySlug
	if slug == "" {
		slug = s.ActiveCitySlug
	}
	return m.create(ctx, userKey, slug), true
}

func (m *Manager) create(ctx context.Context, userKey, citySlug string) chat.Session {
	now := m.now()
	s := chat.Session{
		ID:             m.newID(),
		StartedAt:      now,
		LastActivity:   now,
		ActiveCitySlug: citySlug,
	}
	m.save(ctx, userKey, s)
	m.logger.Debug("session created", zap.String("user", userKey), zap.String("session", s.ID))
	return s
}

func (m *Manager) save(ctx context.Context, userKey string, s chat.Session) {
	if err := storage.SetJSON(ctx, m.store, storage.SessionKey(userKey), s); err != nil {
		m.logger.Warn("persist session failed", zap.String("user", userKey), zap.Error(err))
	}
}

func (m *Manager) discardHistory(ctx context.Context, userKey, sessionID string) {
	if err := m.store.Delete(ctx, storage.HistoryKey(userKey, sessionID)); err != nil {
		m.logger.Warn("discard history failed", zap.String("session", sessionID), zap.Error(err))
	}
}
