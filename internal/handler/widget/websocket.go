package widget

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	widgetsvc "github.com/zhouzirui/citychat/internal/widget"
)

const (
	defaultReadTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeTimeout       = 10 * time.Second
)

// WebSocketHandler keeps one widget connection per browser tab.
type WebSocketHandler struct {
	conversations Conversations
	logger        *zap.Logger
	upgrader      websocket.Upgrader
	readTimeout   time.Duration
}

// NewWebSocketHandler creates the widget socket endpoint.
func NewWebSocketHandler(conversations Conversations, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		conversations: conversations,
		logger:        logger.Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: defaultReadTimeout,
	}
}

type inboundMessage struct {
	Type       string           `json:"type"`
	Text       string           `json:"text"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
	Page       city.PageContext `json:"page"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// socket serialises writes; gorilla connections allow one writer at a time.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) write(msg outgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := userKey(r)
	page := pageFromQuery(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sock := &socket{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, sock)

	snap := h.conversations.Start(ctx, user, page)
	h.send(sock, "session", snap)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("read error", zap.String("user", user), zap.Error(err))
			}
			return
		}
		if msg.Page.CitySlug != "" || msg.Page.Summary != nil {
			page = msg.Page
		}
		h.handleMessage(ctx, sock, user, page, msg)

		// A turn may take as long as the backend timeout; pongs queued
		// meanwhile are only seen on the next read.
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, sock *socket, user string, page city.PageContext, msg inboundMessage) {
	switch msg.Type {
	case "text":
		h.send(sock, "processing", map[string]bool{"processing": true})
		exchange, err := h.conversations.SendMessage(ctx, user, page, widgetsvc.Message{
			Text:       msg.Text,
			Attachment: msg.Attachment,
		})
		if errors.Is(err, widgetsvc.ErrEmptyMessage) {
			h.sendError(sock, "text is required")
			return
		}
		if errors.Is(err, widgetsvc.ErrInvalidAttachment) {
			h.sendError(sock, "attachment must be base64 encoded")
			return
		}
		if err != nil {
			h.sendError(sock, widgetsvc.ErrorText(err))
			return
		}
		h.send(sock, "message", exchange)
	case "history":
		h.send(sock, "history", h.conversations.History(ctx, user, page))
	case "clear":
		h.conversations.ClearHistory(ctx, user, page)
		h.send(sock, "cleared", nil)
	case "ping":
		h.send(sock, "pong", nil)
	default:
		h.sendError(sock, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) send(sock *socket, kind string, data interface{}) {
	msg := outgoingMessage{Type: kind, Data: data, Timestamp: time.Now().Unix()}
	if err := sock.write(msg); err != nil {
		h.logger.Debug("write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(sock *socket, message string) {
	h.send(sock, "error", map[string]string{"message": message})
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, sock *socket) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.ping(); err != nil {
				return
			}
		}
	}
}
