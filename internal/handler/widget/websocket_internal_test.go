package widget

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	widgetsvc "github.com/zhouzirui/citychat/internal/widget"
)

// slowConversations answers every message after delay.
type slowConversations struct {
	delay time.Duration
	sent  atomic.Int32
}

func (s *slowConversations) Start(context.Context, string, city.PageContext) widgetsvc.Snapshot {
	return widgetsvc.Snapshot{}
}

func (s *slowConversations) SendMessage(_ context.Context, _ string, _ city.PageContext, msg widgetsvc.Message) (widgetsvc.Exchange, error) {
	time.Sleep(s.delay)
	s.sent.Add(1)
	return widgetsvc.Exchange{Bot: chat.HistoryEntry{Role: chat.RoleBot, Text: "re: " + msg.Text}}, nil
}

func (s *slowConversations) SendVoice(context.Context, string, city.PageContext, widgetsvc.Recording) (widgetsvc.Exchange, error) {
	return widgetsvc.Exchange{}, nil
}

func (s *slowConversations) History(context.Context, string, city.PageContext) []chat.HistoryEntry {
	return nil
}

func (s *slowConversations) ClearHistory(context.Context, string, city.PageContext) {}

func (s *slowConversations) RefreshCity(context.Context, string, string, *city.PageSummary) (city.Entry, bool) {
	return city.Entry{}, false
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	conversations := &slowConversations{delay: 300 * time.Millisecond}
	h := New(conversations, zap.NewNop())
	h.ws.readTimeout = 150 * time.Millisecond

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/widget/ws?user=slow"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var f outgoingMessage
	if err := conn.ReadJSON(&f); err != nil || f.Type != "session" {
		t.Fatalf("expected session frame, got %q (%v)", f.Type, err)
	}

	for _, text := range []string{"first", "second"} {
		if err := conn.WriteJSON(inboundMessage{Type: "text", Text: text}); err != nil {
			t.Fatalf("write %s: %v", text, err)
		}
		for _, want := range []string{"processing", "message"} {
			var got outgoingMessage
			if err := conn.ReadJSON(&got); err != nil {
				t.Fatalf("read %s after %q: %v", want, text, err)
			}
			if got.Type != want {
				t.Fatalf("expected %s frame after %q, got %q", want, text, got.Type)
			}
		}
	}

	if n := conversations.sent.Load(); n != 2 {
		t.Fatalf("expected 2 turns handled, got %d", n)
	}
}
