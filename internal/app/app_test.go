package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/config"
	"github.com/zhouzirui/citychat/internal/model/city"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Remote:  config.RemoteConfig{BaseURL: baseURL, Mode: config.ModeRemote, Timeout: 5 * time.Second},
		Chat:    config.ChatConfig{SessionTTL: 20 * time.Minute, HistoryWindow: 6, VoiceLanguage: "fa-IR"},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
	}
}

func TestNewRemoteMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hello from backend"}`))
	}))
	defer srv.Close()

	a, err := New(context.Background(), testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ex, err := a.Controller.SendText(context.Background(), "u1", city.PageContext{}, "hi")
	require.NoError(t, err)
	assert.False(t, ex.Failed)
	assert.Equal(t, "hello from backend", ex.Bot.Text)
}

func TestNewHonoursAllowedAPIBases(t *testing.T) {
	reply := func(text string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"` + text + `"}`))
		}))
	}
	primary, staging := reply("primary"), reply("staging")
	defer primary.Close()
	defer staging.Close()

	cfg := testConfig(primary.URL)
	cfg.Remote.AllowedBases = []string{staging.URL}
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ex, err := a.Controller.SendText(context.Background(), "u1", city.PageContext{APIBase: staging.URL + "/"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "staging", ex.Bot.Text)

	ex, err = a.Controller.SendText(context.Background(), "u1", city.PageContext{APIBase: "http://elsewhere.invalid"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "primary", ex.Bot.Text)
}

func TestNewSQLiteStorage(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage = config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "chat.db")}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestNewDirectModeWithoutCredentials(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Remote.Mode = config.ModeDirect

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
