package history_test

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
	"github.com/zhouzirui/citychat/internal/storage"
)

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) Set(context.Context, string, []byte) error {
	return fmt.Errorf("quota exceeded")
}

func textEntry(role chat.Role, text string) chat.HistoryEntry {
	return chat.HistoryEntry{
		Role:      role,
		Type:      chat.TypeText,
		Text:      text,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	store := history.NewStore(kv, zap.NewNop())

	log := store.Open(ctx, "user-1", "s1")
	log.Append(ctx, textEntry(chat.RoleUser, "hello"))

	entry := chat.HistoryEntry{
		Role:      chat.RoleBot,
		Type:      chat.TypeAudio,
		Text:      "reply",
		AudioData: "UklGRg==",
		AudioMIME: "audio/mpeg",
		Duration:  2.5,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
		CitySlug:  "tehran",
	}
	log.Append(ctx, entry)

	loaded := store.Load(ctx, "user-1", "s1")
	require.Len(t, loaded, 2)
	assert.Equal(t, entry, loaded[len(loaded)-1])
}

func TestLoadFailsOpen(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	store := history.NewStore(kv, zap.NewNop())

	assert.Empty(t, store.Load(ctx, "user-1", "missing"))

	require.NoError(t, kv.Set(ctx, storage.HistoryKey("user-1", "bad"), []byte("[{oops")))
	got := store.Load(ctx, "user-1", "bad")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAppendSwallowsWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := history.NewStore(failingStore{storage.NewMemoryStore()}, zap.NewNop())

	log := store.Open(ctx, "user-1", "s1")
	log.Append(ctx, textEntry(chat.RoleUser, "still here"))

	assert.Equal(t, 1, log.Len())
	assert.Empty(t, store.Load(ctx, "user-1", "s1"))
}

func TestClearDropsPersistedKey(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	store := history.NewStore(kv, zap.NewNop())

	log := store.Open(ctx, "user-1", "s1")
	log.Append(ctx, textEntry(chat.RoleUser, "hi"))
	log.Clear(ctx)

	assert.Zero(t, log.Len())
	_, err := kv.Get(ctx, storage.HistoryKey("user-1", "s1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHistoryIsScopedToSession(t *testing.T) {
	ctx := context.Background()
	store := history.NewStore(storage.NewMemoryStore(), zap.NewNop())

	store.Open(ctx, "user-1", "s1").Append(ctx, textEntry(chat.RoleUser, "first"))

	assert.Empty(t, store.Load(ctx, "user-1", "s2"))
	assert.Empty(t, store.Load(ctx, "user-2", "s1"))
}

func TestRecentWindow(t *testing.T) {
	ctx := context.Background()
	store := history.NewStore(storage.NewMemoryStore(), zap.NewNop())
	log := store.Open(ctx, "user-1", "s1")

	for i := 0; i < 10; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleBot
		}
		log.Append(ctx, textEntry(role, fmt.Sprintf("turn %d", i)))
	}

	window := log.RecentWindow(0, "")
	require.Len(t, window, history.DefaultWindow)
	assert.Equal(t, "turn 4", window[0].Text)
	assert.Equal(t, "turn 9", window[5].Text)

	assert.Len(t, log.RecentWindow(3, ""), 3)
	assert.Len(t, log.RecentWindow(50, ""), 10)
}

func TestRecentWindowDropsTrailingEcho(t *testing.T) {
	ctx := context.Background()
	store := history.NewStore(storage.NewMemoryStore(), zap.NewNop())
	log := store.Open(ctx, "user-1", "s1")

	log.Append(ctx, textEntry(chat.RoleUser, "hello"))
	log.Append(ctx, textEntry(chat.RoleBot, "hi there"))
	log.Append(ctx, textEntry(chat.RoleUser, "weather today"))

	window := log.RecentWindow(6, "weather today")
	require.Len(t, window, 2)
	assert.Equal(t, "hi there", window[1].Text)

	// Only a trailing user turn counts as an echo.
	window = log.RecentWindow(6, "hi there")
	assert.Len(t, window, 3)
}
