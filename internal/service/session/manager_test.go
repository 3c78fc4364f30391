package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/service/history"
	"github.com/zhouzirui/citychat/internal/service/session"
	"github.com/zhouzirui/citychat/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newManager(kv storage.Store, clock *fakeClock) *session.Manager {
	seq := 0
	return session.NewManager(kv, session.DefaultTTL, zap.NewNop(),
		session.WithClock(clock.Now),
		session.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("session-%d", seq)
		}),
	)
}

func TestLoadOrCreateCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newManager(storage.NewMemoryStore(), clock)

	first, isNew := mgr.LoadOrCreate(ctx, "user-1", "tehran")
	require.True(t, isNew)
	assert.Equal(t, "session-1", first.ID)
	assert.Equal(t, "tehran", first.ActiveCitySlug)
	assert.Equal(t, clock.now, first.StartedAt)
	assert.Equal(t, clock.now, first.LastActivity)

	clock.Advance(10 * time.Minute)
	again, isNew := mgr.LoadOrCreate(ctx, "user-1", "isfahan")
	require.False(t, isNew)
	assert.Equal(t, first, again)
}

func TestLoadOrCreateReplacesExpiredSession(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newManager(kv, clock)
	histories := history.NewStore(kv, zap.NewNop())

	first, _ := mgr.LoadOrCreate(ctx, "user-1", "")
	histories.Open(ctx, "user-1", first.ID).Append(ctx, chat.HistoryEntry{Role: chat.RoleUser, Type: chat.TypeText, Text: "hi"})

	clock.Advance(21 * time.Minute)
	second, isNew := mgr.LoadOrCreate(ctx, "user-1", "")
	require.True(t, isNew)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, histories.Load(ctx, "user-1", first.ID))
}

func TestLoadOrCreateTreatsCorruptRecordAsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, storage.SessionKey("user-1"), []byte("not-json")))

	mgr := newManager(kv, &fakeClock{now: time.Now().UTC()})
	s, isNew := mgr.LoadOrCreate(ctx, "user-1", "")

	require.True(t, isNew)
	assert.Equal(t, "session-1", s.ID)
}

func TestTouchPersistsLastActivity(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newManager(storage.NewMemoryStore(), clock)

	s, _ := mgr.LoadOrCreate(ctx, "user-1", "")
	clock.Advance(3 * time.Minute)
	mgr.Touch(ctx, "user-1", &s)

	reloaded, isNew := mgr.LoadOrCreate(ctx, "user-1", "")
	require.False(t, isNew)
	assert.Equal(t, clock.now, reloaded.LastActivity)
	assert.Equal(t, s.StartedAt, reloaded.StartedAt)
}

func TestEnsureActiveKeepsLiveSession(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newManager(storage.NewMemoryStore(), clock)

	s, _ := mgr.LoadOrCreate(ctx, "user-1", "")
	clock.Advance(session.DefaultTTL)

	got, renewed := mgr.EnsureActive(ctx, "user-1", s, "")
	assert.False(t, renewed)
	assert.Equal(t, s.ID, got.ID)
}

func TestEnsureActiveRenewsExpiredSessionAndDropsHistory(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newManager(kv, clock)
	histories := history.NewStore(kv, zap.NewNop())

	old, _ := mgr.LoadOrCreate(ctx, "user-1", "shiraz")
	log := histories.Open(ctx, "user-1", old.ID)
	log.Append(ctx, chat.HistoryEntry{Role: chat.RoleUser, Type: chat.TypeText, Text: "one"})
	log.Append(ctx, chat.HistoryEntry{Role: chat.RoleBot, Type: chat.TypeText, Text: "two"})

	clock.Advance(session.DefaultTTL + time.Second)
	fresh, renewed := mgr.EnsureActive(ctx, "user-1", old, "")

	require.True(t, renewed)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, "shiraz", fresh.ActiveCitySlug)
	assert.Empty(t, histories.Load(ctx, "user-1", old.ID))

	stored, isNew := mgr.LoadOrCreate(ctx, "user-1", "")
	require.False(t, isNew)
	assert.Equal(t, fresh.ID, stored.ID)
}

func TestSetActiveCity(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(storage.NewMemoryStore(), &fakeClock{now: time.Now().UTC()})

	s, _ := mgr.LoadOrCreate(ctx, "user-1", "")
	mgr.SetActiveCity(ctx, "user-1", &s, "yazd")

	reloaded, _ := mgr.LoadOrCreate(ctx, "user-1", "")
	assert.Equal(t, "yazd", reloaded.ActiveCitySlug)
}
