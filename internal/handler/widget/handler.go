package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	widgetsvc "github.com/zhouzirui/citychat/internal/widget"
	"github.com/zhouzirui/citychat/pkg/utils"
)

// UserHeader identifies the widget user on every request.
const UserHeader = "X-Widget-User"

const (
	anonymousUser   = "anonymous"
	maxUploadBytes  = 32 << 20
	maxMessageBytes = 16 << 20
)

// Conversations abstracts the widget controller for the HTTP layer.
type Conversations interface {
	Start(ctx context.Context, userKey string, page city.PageContext) widgetsvc.Snapshot
	SendMessage(ctx context.Context, userKey string, page city.PageContext, msg widgetsvc.Message) (widgetsvc.Exchange, error)
	SendVoice(ctx context.Context, userKey string, page city.PageContext, rec widgetsvc.Recording) (widgetsvc.Exchange, error)
	History(ctx context.Context, userKey string, page city.PageContext) []chat.HistoryEntry
	ClearHistory(ctx context.Context, userKey string, page city.PageContext)
	RefreshCity(ctx context.Context, userKey, slug string, summary *city.PageSummary) (city.Entry, bool)
}

// Handler exposes the widget conversation over HTTP.
type Handler struct {
	conversations Conversations
	logger        *zap.Logger
	ws            *WebSocketHandler
}

// New creates the widget handler.
func New(conversations Conversations, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("handler")
	return &Handler{
		conversations: conversations,
		logger:        logger,
		ws:            NewWebSocketHandler(conversations, logger),
	}
}

// RegisterRoutes mounts the widget endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/widget", func(wr chi.Router) {
		wr.Post("/session", h.handleStart)
		wr.Post("/messages", h.handleMessage)
		wr.Post("/voice", h.handleVoice)
		wr.Get("/history", h.handleHistory)
		wr.Delete("/history", h.handleClearHistory)
		wr.Post("/city", h.handleCity)
		wr.Get("/ws", h.ws.handleWebSocket)
		wr.Get("/health", h.handleHealth)
	})
}

// userKey resolves the caller from the header, then the query string.
func userKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(UserHeader)); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.URL.Query().Get("user")); key != "" {
		return key
	}
	return anonymousUser
}

// pageFromQuery reads the page attributes available on GET requests.
func pageFromQuery(r *http.Request) city.PageContext {
	q := r.URL.Query()
	return city.PageContext{
		PageType: q.Get("pageType"),
		CityName: q.Get("cityName"),
		CitySlug: q.Get("citySlug"),
	}
}

func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Page city.PageContext `json:"page"`
	}
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap := h.conversations.Start(r.Context(), userKey(r), payload.Page)
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		widgetsvc.Message
		Page city.PageContext `json:"page"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := h.conversations.SendMessage(r.Context(), userKey(r), payload.Page, payload.Message)
	if errors.Is(err, widgetsvc.ErrEmptyMessage) {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if errors.Is(err, widgetsvc.ErrInvalidAttachment) {
		utils.RespondError(w, http.StatusBadRequest, "attachment must be base64 encoded")
		return
	}
	if err != nil {
		h.logger.Error("send text failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "message failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, exchange)
}

func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	duration, _ := strconv.ParseFloat(r.FormValue("duration"), 64)
	rec := widgetsvc.Recording{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		Duration: duration,
		Language: r.FormValue("language"),
	}
	page := city.PageContext{
		PageType: r.FormValue("pageType"),
		CityName: r.FormValue("cityName"),
		CitySlug: r.FormValue("citySlug"),
	}

	exchange, err := h.conversations.SendVoice(r.Context(), userKey(r), page, rec)
	if errors.Is(err, widgetsvc.ErrEmptyMessage) {
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		return
	}
	if err != nil {
		h.logger.Error("send voice failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "voice message failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, exchange)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.conversations.History(r.Context(), userKey(r), pageFromQuery(r))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	h.conversations.ClearHistory(r.Context(), userKey(r), pageFromQuery(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCity(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Slug    string            `json:"slug"`
		Summary *city.PageSummary `json:"summary"`
	}
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Summary == nil {
		utils.RespondError(w, http.StatusBadRequest, "summary is required")
		return
	}

	entry, ok := h.conversations.RefreshCity(r.Context(), userKey(r), payload.Slug, payload.Summary)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "slug is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"city":  entry,
		"color": city.ScoreColor(entry.AverageScore),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "widget",
	})
}
