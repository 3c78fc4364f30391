// Package widget drives a chat conversation the way the embedded widget
// does: it keeps the session alive, augments each query with context,
// dispatches it and records both turns. Every failure ends up as a bot
// message rather than an error.
package widget

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	citymodel "github.com/zhouzirui/citychat/internal/model/city"
	"github.com/zhouzirui/citychat/internal/service/city"
	"github.com/zhouzirui/citychat/internal/service/history"
	"github.com/zhouzirui/citychat/internal/service/query"
	"github.com/zhouzirui/citychat/internal/service/session"
	"github.com/zhouzirui/citychat/internal/transport"
)

var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrInvalidAttachment = errors.New("attachment is not valid base64")
)

// TextSender dispatches a text query and its optional attachment.
type TextSender interface {
	SendText(ctx context.Context, query string, entry *citymodel.Entry, att *chat.Attachment) (string, error)
}

// VoiceSender dispatches a recorded query.
type VoiceSender interface {
	SendVoice(ctx context.Context, req transport.VoiceRequest) (*transport.VoiceReply, error)
}

// Conversation is the explicit per-call context handed to each component.
type Conversation struct {
	UserKey string
	Page    citymodel.PageContext
	Session chat.Session
	IsNew   bool
	History *history.Log
	City    *citymodel.Entry
}

// Snapshot is what a host needs to render the widget.
type Snapshot struct {
	Session chat.Session        `json:"session"`
	IsNew   bool                `json:"isNew"`
	History []chat.HistoryEntry `json:"history"`
	City    *citymodel.Entry    `json:"city,omitempty"`
}

// Exchange is the outcome of one user turn.
type Exchange struct {
	SessionID  string            `json:"sessionId"`
	NewSession bool              `json:"newSession"`
	User       chat.HistoryEntry `json:"user"`
	Bot        chat.HistoryEntry `json:"bot"`
	Failed     bool              `json:"failed"`
}

// Config bundles the collaborators of a Controller.
type Config struct {
	Sessions  *session.Manager
	Histories *history.Store
	Cities    *city.Cache
	Builder   *query.Builder
	Text      TextSender
	Voice     VoiceSender
	Language  string
	Logger    *zap.Logger

	// AllowedAPIBases lists the backends a page may switch to through
	// PageContext.APIBase. Any other value is ignored.
	AllowedAPIBases []string
}

// Controller serialises the calls of each user key.
type Controller struct {
	sessions  *session.Manager
	histories *history.Store
	cities    *city.Cache
	builder   *query.Builder
	text      TextSender
	voice     VoiceSender
	language  string
	now       func() time.Time
	logger    *zap.Logger

	allowedBases map[string]struct{}
	locks        *keyedMutex
}

// New returns a Controller wired from cfg.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := cfg.Builder
	if builder == nil {
		builder = query.NewBuilder(history.DefaultWindow)
	}
	language := cfg.Language
	if language == "" {
		language = "fa-IR"
	}
	return &Controller{
		sessions:     cfg.Sessions,
		histories:    cfg.Histories,
		cities:       cfg.Cities,
		builder:      builder,
		text:         cfg.Text,
		voice:        cfg.Voice,
		language:     language,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.Named("widget"),
		allowedBases: normalizeBases(cfg.AllowedAPIBases),
		locks:        newKeyedMutex(),
	}
}

func normalizeBases(bases []string) map[string]struct{} {
	set := make(map[string]struct{}, len(bases))
	for _, b := range bases {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			set[b] = struct{}{}
		}
	}
	return set
}

// SetClock overrides the time source used for entry timestamps.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Controller) lock(userKey string) func() {
	return c.locks.Lock(userKey)
}

// senders returns the dispatchers for page. An allowed APIBase retargets
// the remote client; direct-mode senders are left alone.
func (c *Controller) senders(page citymodel.PageContext) (TextSender, VoiceSender) {
	text, voice := c.text, c.voice

	base := strings.TrimRight(strings.TrimSpace(page.APIBase), "/")
	if base == "" {
		return text, voice
	}
	if _, ok := c.allowedBases[base]; !ok {
		c.logger.Debug("ignoring api base override", zap.String("api_base", base))
		return text, voice
	}

	if client, ok := text.(*transport.Client); ok && client.BaseURL() != base {
		text = client.WithBaseURL(base)
	}
	if client, ok := voice.(*transport.Client); ok && client.BaseURL() != base {
		voice = client.WithBaseURL(base)
	}
	return text, voice
}

// open resolves the session, refreshes the page city and loads history.
func (c *Controller) open(ctx context.Context, userKey string, page citymodel.PageContext) *Conversation {
	s, isNew := c.sessions.LoadOrCreate(ctx, userKey, page.CitySlug)
	conv := &Conversation{UserKey: userKey, Page: page, Session: s, IsNew: isNew}

	if page.Summary != nil {
		c.cities.RefreshFromPage(ctx, userKey, page.CitySlug, page.Summary)
	}
	c.resolveCity(ctx, conv)
	conv.History = c.histories.Open(ctx, userKey, s.ID)
	return conv
}

func (c *Controller) resolveCity(ctx context.Context, conv *Conversation) {
	conv.City = nil
	slug := city.ActiveSlug(conv.Page, conv.Session)
	if slug == "" {
		return
	}
	if entry, ok := c.cities.Get(ctx, conv.UserKey, slug); ok {
		conv.City = &entry
	}
	c.sessions.SetActiveCity(ctx, conv.UserKey, &conv.Session, slug)
}

// ensureActive renews an expired session before a message goes out.
func (c *Controller) ensureActive(ctx context.Context, conv *Conversation) bool {
	s, renewed := c.sessions.EnsureActive(ctx, conv.UserKey, conv.Session, conv.Page.CitySlug)
	if renewed {
		conv.Session = s
		conv.History = c.histories.Open(ctx, conv.UserKey, s.ID)
		c.resolveCity(ctx, conv)
	}
	c.sessions.Touch(ctx, conv.UserKey, &conv.Session)
	return renewed
}

// Start resumes or begins the user's session.
func (c *Controller) Start(ctx context.Context, userKey string, page citymodel.PageContext) Snapshot {
	defer c.lock(userKey)()

	conv := c.open(ctx, userKey, page)
	return Snapshot{
		Session: conv.Session,
		IsNew:   conv.IsNew,
		History: conv.History.Entries(),
		City:    conv.City,
	}
}

// Message is a typed turn with an optional file.
type Message struct {
	Text       string           `json:"text"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// SendText runs one typed turn without attachment.
func (c *Controller) SendText(ctx context.Context, userKey string, page citymodel.PageContext, text string) (Exchange, error) {
	return c.SendMessage(ctx, userKey, page, Message{Text: text})
}

// SendMessage runs one typed turn. The attachment, if any, is kept on the
// user entry and forwarded with the query.
func (c *Controller) SendMessage(ctx context.Context, userKey string, page citymodel.PageContext, msg Message) (Exchange, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Exchange{}, ErrEmptyMessage
	}
	att, err := normalizeAttachment(msg.Attachment)
	if err != nil {
		return Exchange{}, err
	}

	defer c.lock(userKey)()
	sendText, _ := c.senders(page)

	conv := c.open(ctx, userKey, page)
	renewed := c.ensureActive(ctx, conv)

	userEntry := chat.HistoryEntry{
		Role:       chat.RoleUser,
		Type:       chat.TypeText,
		Text:       text,
		Attachment: att,
		Timestamp:  c.now(),
		CitySlug:   citySlug(conv),
	}
	conv.History.Append(ctx, userEntry)

	augmented := c.builder.Build(text, conv.History, conv.City)
	exchange := Exchange{SessionID: conv.Session.ID, NewSession: conv.IsNew || renewed, User: userEntry}

	reply, err := sendText.SendText(ctx, augmented, conv.City, att)
	if err != nil {
		exchange.Bot = c.failure(conv, err)
		exchange.Failed = true
		return exchange, nil
	}

	exchange.Bot = chat.HistoryEntry{
		Role:      chat.RoleBot,
		Type:      chat.TypeText,
		Text:      reply,
		Timestamp: c.now(),
		CitySlug:  citySlug(conv),
	}
	conv.History.Append(ctx, exchange.Bot)
	return exchange, nil
}

// Recording is a finished capture ready to be sent.
type Recording struct {
	Data     []byte
	MIMEType string
	Duration float64 // seconds
	Language string
}

const voiceLabel = "Voice message"

// SendVoice runs one recorded turn.
func (c *Controller) SendVoice(ctx context.Context, userKey string, page citymodel.PageContext, rec Recording) (Exchange, error) {
	if len(rec.Data) == 0 {
		return Exchange{}, ErrEmptyMessage
	}

	defer c.lock(userKey)()
	_, sendVoice := c.senders(page)

	conv := c.open(ctx, userKey, page)
	renewed := c.ensureActive(ctx, conv)
	exchange := Exchange{SessionID: conv.Session.ID, NewSession: conv.IsNew || renewed}

	userEntry := chat.HistoryEntry{
		Role:      chat.RoleUser,
		Type:      chat.TypeAudio,
		Text:      voiceLabel,
		AudioData: base64.StdEncoding.EncodeToString(rec.Data),
		AudioMIME: rec.MIMEType,
		Duration:  rec.Duration,
		Timestamp: c.now(),
		CitySlug:  citySlug(conv),
	}

	if sendVoice == nil {
		conv.History.Append(ctx, userEntry)
		exchange.User = userEntry
		exchange.Bot = c.failure(conv, &transport.RemoteError{Message: "Voice queries are not available."})
		exchange.Failed = true
		return exchange, nil
	}

	language := rec.Language
	if language == "" {
		language = c.language
	}

	reply, err := sendVoice.SendVoice(ctx, transport.VoiceRequest{
		Audio:    bytes.NewReader(rec.Data),
		MIMEType: rec.MIMEType,
		Language: language,
		Context:  c.builder.Context(conv.History, conv.City, ""),
	})
	if err != nil {
		conv.History.Append(ctx, userEntry)
		exchange.User = userEntry
		exchange.Bot = c.failure(conv, err)
		exchange.Failed = true
		return exchange, nil
	}

	if reply.Transcription != "" {
		userEntry.Text = reply.Transcription
	}
	conv.History.Append(ctx, userEntry)
	exchange.User = userEntry

	exchange.Bot = chat.HistoryEntry{
		Role:      chat.RoleBot,
		Type:      chat.TypeAudio,
		Text:      voiceLabel,
		AudioData: base64.StdEncoding.EncodeToString(reply.Audio),
		AudioMIME: reply.ContentType,
		Timestamp: c.now(),
		CitySlug:  citySlug(conv),
	}
	conv.History.Append(ctx, exchange.Bot)
	return exchange, nil
}

// History returns the entries of the user's live session.
func (c *Controller) History(ctx context.Context, userKey string, page citymodel.PageContext) []chat.HistoryEntry {
	defer c.lock(userKey)()
	return c.open(ctx, userKey, page).History.Entries()
}

// ClearHistory empties the user's live session log.
func (c *Controller) ClearHistory(ctx context.Context, userKey string, page citymodel.PageContext) {
	defer c.lock(userKey)()
	c.open(ctx, userKey, page).History.Clear(ctx)
}

// RefreshCity stores a page summary for the user outside of a message.
func (c *Controller) RefreshCity(ctx context.Context, userKey, slug string, summary *citymodel.PageSummary) (citymodel.Entry, bool) {
	defer c.lock(userKey)()
	return c.cities.RefreshFromPage(ctx, userKey, slug, summary)
}

// failure renders err as the bot's reply. Failures are not persisted.
func (c *Controller) failure(conv *Conversation, err error) chat.HistoryEntry {
	c.logger.Warn("query failed",
		zap.String("user", conv.UserKey),
		zap.String("session", conv.Session.ID),
		zap.Error(err),
	)
	return chat.HistoryEntry{
		Role:      chat.RoleBot,
		Type:      chat.TypeText,
		Text:      ErrorText(err),
		Timestamp: c.now(),
		CitySlug:  citySlug(conv),
	}
}

// ErrorText turns any error into the text shown as the bot's message.
func ErrorText(err error) string {
	var remote *transport.RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, ErrMediaUnavailable):
		return "Microphone access is not available. Please check your permissions and try again."
	case errors.Is(err, ErrRecordingActive):
		return "A recording is already in progress."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before the assistant replied."
	default:
		return "Sorry, I could not reach the assistant. Please try again."
	}
}

// normalizeAttachment checks the payload decodes and fills a missing type.
func normalizeAttachment(att *chat.Attachment) (*chat.Attachment, error) {
	if att == nil || strings.TrimSpace(att.Data) == "" {
		return nil, nil
	}
	data := strings.TrimSpace(att.Data)
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
	}
	mimeType := strings.TrimSpace(att.MIMEType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &chat.Attachment{Data: data, MIMEType: mimeType}, nil
}

func citySlug(conv *Conversation) string {
	if conv.City != nil {
		return conv.City.Slug
	}
	return city.ActiveSlug(conv.Page, conv.Session)
}
