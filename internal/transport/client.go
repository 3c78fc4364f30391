// Package transport talks to the remote chat API: JSON text queries and
// multipart voice queries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
)

const (
	textPath  = "/api/v1/query/text"
	voicePath = "/api/v1/query/voice"

	// TranscriptionHeader carries the recognised text of a voice query.
	TranscriptionHeader = "X-Transcription"

	defaultTemperature = 0.7
	defaultMaxTokens   = 5000
	maxErrorBody       = 64 << 10
)

// Client sends queries to the backend at BaseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a Client for baseURL. A nil httpClient gets a default
// one with timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.Named("transport"),
	}
}

// BaseURL returns the backend root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithBaseURL returns a copy of the client aimed at another backend, used
// when a host page overrides the API base.
func (c *Client) WithBaseURL(baseURL string) *Client {
	clone := *c
	clone.baseURL = strings.TrimRight(baseURL, "/")
	return &clone
}

// TextRequest is the JSON body of a text query.
type TextRequest struct {
	Query       string         `json:"query"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SendText posts query and returns the normalised reply text. An
// attachment travels inline under metadata.attachment.
func (c *Client) SendText(ctx context.Context, query string, entry *city.Entry, att *chat.Attachment) (string, error) {
	payload := TextRequest{
		Query:       query,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Metadata:    requestMetadata(entry, att),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("transport: marshal text query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+textPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transport: build text request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transport: text request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transport: read text response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("text query rejected", zap.Int("status", resp.StatusCode))
		return "", &RemoteError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	text, ok := ExtractResponseText(respBody)
	if !ok {
		c.logger.Warn("unrecognised text response shape", zap.Int("bytes", len(respBody)))
		return "", &RemoteError{Status: resp.StatusCode, Message: unreadableReplyReason}
	}
	return text, nil
}

func requestMetadata(entry *city.Entry, att *chat.Attachment) map[string]any {
	meta := map[string]any{}
	if entry != nil && entry.Slug != "" {
		meta["city_name"] = entry.Name
		meta["city_slug"] = entry.Slug
		meta["average_score"] = entry.AverageScore
	}
	if att != nil && att.Data != "" {
		meta["attachment"] = map[string]string{
			"data":      att.Data,
			"mime_type": att.MIMEType,
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// VoiceRequest is a recorded query.
type VoiceRequest struct {
	Audio    io.Reader
	MIMEType string
	Language string
	Context  string
}

// VoiceReply is the backend's spoken answer.
type VoiceReply struct {
	Transcription string
	Audio         []byte
	ContentType   string
}

// SendVoice uploads a recording and returns the audio reply together with
// the echoed transcription, when the backend provides one.
func (c *Client) SendVoice(ctx context.Context, vr VoiceRequest) (*VoiceReply, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", RecordingFilename(vr.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("transport: create audio part: %w", err)
	}
	if _, err := io.Copy(part, vr.Audio); err != nil {
		return nil, fmt.Errorf("transport: copy audio: %w", err)
	}
	if err := writer.WriteField("language", vr.Language); err != nil {
		return nil, fmt.Errorf("transport: write language: %w", err)
	}
	if vr.Context != "" {
		if err := writer.WriteField("context", vr.Context); err != nil {
			return nil, fmt.Errorf("transport: write context: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("transport: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+voicePath, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build voice request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: voice request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fallbackVoiceMessage
		}
		c.logger.Warn("voice query rejected", zap.Int("status", resp.StatusCode))
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read voice response: %w", err)
	}

	return &VoiceReply{
		Transcription: decodeTranscription(resp.Header.Get(TranscriptionHeader)),
		Audio:         audio,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// decodeTranscription undoes percent-encoding, which backends use to keep
// non-ASCII text legal in a header.
func decodeTranscription(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "%") {
		if decoded, err := url.PathUnescape(raw); err == nil {
			return NormalizeText(decoded)
		}
	}
	return NormalizeText(raw)
}

// RecordingFilename names an upload after its container format.
func RecordingFilename(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = ""
	}
	switch base {
	case "audio/ogg":
		return "recording.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "recording.m4a"
	case "audio/mpeg", "audio/mp3":
		return "recording.mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "recording.wav"
	default:
		return "recording.webm"
	}
}
