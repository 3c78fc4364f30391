package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrMediaUnavailable = errors.New("media capture unavailable")
	ErrRecordingActive  = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// Recorder captures audio from an input device.
type Recorder interface {
	Start(ctx context.Context, mimeType string) error
	Stop(ctx context.Context) (Recording, error)
}

// AudioItem is a playable clip, identified so it can be paused later.
type AudioItem struct {
	ID       string
	Data     []byte
	MIMEType string
}

// Player renders audio on an output device.
type Player interface {
	Play(ctx context.Context, item AudioItem) error
	Pause(id string) error
}

// PreferredFormats lists recorder formats from most to least preferred.
var PreferredFormats = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/mp4",
	"audio/mpeg",
}

// SelectFormat returns the first preferred format the recorder supports.
// An empty result means "use the recorder's default", never a failure.
func SelectFormat(isSupported func(mimeType string) bool) string {
	if isSupported == nil {
		return ""
	}
	for _, f := range PreferredFormats {
		if isSupported(f) {
			return f
		}
	}
	return ""
}

// Media gates recording so only one capture runs at a time.
type Media struct {
	recorder    Recorder
	isSupported func(string) bool

	mu        sync.Mutex
	recording bool
	format    string
}

// NewMedia wraps recorder; isSupported may be nil.
func NewMedia(recorder Recorder, isSupported func(string) bool) *Media {
	return &Media{recorder: recorder, isSupported: isSupported}
}

// StartRecording begins a capture in the best available format.
func (m *Media) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recording {
		return ErrRecordingActive
	}
	if m.recorder == nil {
		return ErrMediaUnavailable
	}

	format := SelectFormat(m.isSupported)
	if err := m.recorder.Start(ctx, format); err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	m.recording = true
	m.format = format
	return nil
}

// StopRecording ends the active capture and returns it.
func (m *Media) StopRecording(ctx context.Context) (Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recording {
		return Recording{}, ErrNotRecording
	}
	m.recording = false

	rec, err := m.recorder.Stop(ctx)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if rec.MIMEType == "" {
		rec.MIMEType = m.format
	}
	return rec, nil
}

// Playback keeps at most one item playing: starting a new item pauses the
// current one first.
type Playback struct {
	player Player

	mu      sync.Mutex
	current string
}

// NewPlayback wraps player.
func NewPlayback(player Player) *Playback {
	return &Playback{player: player}
}

// Current returns the id of the playing item, if any.
func (p *Playback) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Play pauses the current item, if different, and plays item.
func (p *Playback) Play(ctx context.Context, item AudioItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != "" && p.current != item.ID {
		if err := p.player.Pause(p.current); err != nil {
			return fmt.Errorf("pause %s: %w", p.current, err)
		}
		p.current = ""
	}
	if err := p.player.Play(ctx, item); err != nil {
		return fmt.Errorf("play %s: %w", item.ID, err)
	}
	p.current = item.ID
	return nil
}

// Pause stops item if it is the current one.
func (p *Playback) Pause(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != id {
		return nil
	}
	if err := p.player.Pause(id); err != nil {
		return fmt.Errorf("pause %s: %w", id, err)
	}
	p.current = ""
	return nil
}
