package widget

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	citymodel "github.com/zhouzirui/citychat/internal/model/city"
	"github.com/zhouzirui/citychat/internal/service/city"
	"github.com/zhouzirui/citychat/internal/service/history"
	"github.com/zhouzirui/citychat/internal/service/session"
	"github.com/zhouzirui/citychat/internal/storage"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	other := k.Lock("b")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released key")
	}
}

func TestKeyedMutexDrains(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := k.Lock(fmt.Sprintf("user-%d", i%7))
			unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, k.Len())
}

func TestControllerLocksDrainAfterOneShotUsers(t *testing.T) {
	kv := storage.NewMemoryStore()
	c := New(Config{
		Sessions:  session.NewManager(kv, session.DefaultTTL, zap.NewNop()),
		Histories: history.NewStore(kv, zap.NewNop()),
		Cities:    city.NewCache(kv, zap.NewNop()),
	})

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		snap := c.Start(ctx, fmt.Sprintf("visitor-%d", i), citymodel.PageContext{})
		require.NotEmpty(t, snap.Session.ID)
	}
	assert.Equal(t, 0, c.locks.Len())
}
