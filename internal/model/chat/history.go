package chat

import (
	"strings"
	"time"
)

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// EntryType distinguishes typed turns from recorded ones.
type EntryType string

const (
	TypeText  EntryType = "text"
	TypeAudio EntryType = "audio"
)

// Attachment is a file sent along with a typed turn.
type Attachment struct {
	Data     string `json:"data"` // base64
	MIMEType string `json:"mimeType"`
}

// IsImage reports whether the attachment can be shown inline.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// DataURL renders the attachment as a data: URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MIMEType + ";base64," + a.Data
}

// HistoryEntry persists a single chat turn.
type HistoryEntry struct {
	Role       Role        `json:"role"`
	Type       EntryType   `json:"type"`
	Text       string      `json:"text"`
	AudioData  string      `json:"audioData,omitempty"` // base64
	AudioMIME  string      `json:"audioMime,omitempty"`
	Duration   float64     `json:"duration,omitempty"` // seconds
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	CitySlug   string      `json:"citySlug,omitempty"`
}

// IsAudio reports whether the entry carries a recording.
func (e HistoryEntry) IsAudio() bool {
	return e.Type == TypeAudio
}
