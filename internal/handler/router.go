package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/citychat/internal/middleware"
)

// NewRouter wires HTTP routes to the widget controller.
func NewRouter(conversations widget.Conversations, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	widgetHandler := widget.New(conversations, logger)

	r.Route("/api", func(api chi.Router) {
		widgetHandler.RegisterRoutes(api)
	})

	return r
}
