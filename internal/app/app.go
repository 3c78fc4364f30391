// Package app assembles the widget controller from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/config"
	"github.com/zhouzirui/citychat/internal/service/city"
	"github.com/zhouzirui/citychat/internal/service/history"
	"github.com/zhouzirui/citychat/internal/service/query"
	"github.com/zhouzirui/citychat/internal/service/session"
	"github.com/zhouzirui/citychat/internal/storage"
	"github.com/zhouzirui/citychat/internal/transport"
	"github.com/zhouzirui/citychat/internal/transport/llm"
	"github.com/zhouzirui/citychat/internal/widget"
)

// App owns the controller and the resources behind it.
type App struct {
	Controller *widget.Controller
	Store      storage.Store
	Client     *transport.Client
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// New opens storage, selects the transport and wires the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	logger.Info("storage ready", zap.String("driver", cfg.Storage.Driver))

	client := transport.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout, nil, logger)

	var text widget.TextSender = client
	if cfg.Remote.Mode == config.ModeDirect {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("init direct mode: %w", err)
		}
		direct, err := llm.New(ctx, chatModel, logger)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("init direct mode: %w", err)
		}
		text = direct
		logger.Info("direct LLM mode enabled", zap.String("model", cfg.AI.Model))
	} else {
		logger.Info("remote chat API", zap.String("base_url", client.BaseURL()))
	}

	ctrl := widget.New(widget.Config{
		Sessions:        session.NewManager(kv, cfg.Chat.SessionTTL, logger),
		Histories:       history.NewStore(kv, logger),
		Cities:          city.NewCache(kv, logger),
		Builder:         query.NewBuilder(cfg.Chat.HistoryWindow),
		Text:            text,
		Voice:           client,
		Language:        cfg.Chat.VoiceLanguage,
		Logger:          logger,
		AllowedAPIBases: cfg.Remote.AllowedBases,
	})

	return &App{Controller: ctrl, Store: kv, Client: client}, nil
}
