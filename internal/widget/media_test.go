package widget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	startErr  error
	started   string
	recording Recording
}

func (f *fakeRecorder) Start(_ context.Context, mimeType string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = mimeType
	return nil
}

func (f *fakeRecorder) Stop(context.Context) (Recording, error) {
	return f.recording, nil
}

type fakePlayer struct {
	events []string
}

func (f *fakePlayer) Play(_ context.Context, item AudioItem) error {
	f.events = append(f.events, "play:"+item.ID)
	return nil
}

func (f *fakePlayer) Pause(id string) error {
	f.events = append(f.events, "pause:"+id)
	return nil
}

func TestSelectFormat(t *testing.T) {
	assert.Equal(t, "audio/webm;codecs=opus", SelectFormat(func(string) bool { return true }))
	assert.Equal(t, "audio/mp4", SelectFormat(func(m string) bool { return m == "audio/mp4" }))
	assert.Empty(t, SelectFormat(func(string) bool { return false }))
	assert.Empty(t, SelectFormat(nil))
}

func TestMediaAllowsOneRecordingAtATime(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{recording: Recording{Data: []byte("a")}}
	media := NewMedia(rec, func(m string) bool { return m == "audio/ogg;codecs=opus" })

	require.NoError(t, media.StartRecording(ctx))
	assert.True(t, media.recording)
	assert.Equal(t, "audio/ogg;codecs=opus", rec.started)
	assert.ErrorIs(t, media.StartRecording(ctx), ErrRecordingActive)

	got, err := media.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg;codecs=opus", got.MIMEType)
	assert.False(t, media.recording)

	_, err = media.StopRecording(ctx)
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestMediaUnavailable(t *testing.T) {
	ctx := context.Background()
	media := NewMedia(&fakeRecorder{startErr: errors.New("permission denied")}, nil)

	err := media.StartRecording(ctx)
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.False(t, media.recording)

	assert.ErrorIs(t, NewMedia(nil, nil).StartRecording(ctx), ErrMediaUnavailable)
}

func TestPlaybackPausesPreviousItem(t *testing.T) {
	ctx := context.Background()
	player := &fakePlayer{}
	pb := NewPlayback(player)

	require.NoError(t, pb.Play(ctx, AudioItem{ID: "a"}))
	require.NoError(t, pb.Play(ctx, AudioItem{ID: "b"}))
	assert.Equal(t, "b", pb.Current())

	require.NoError(t, pb.Pause("b"))
	assert.Empty(t, pb.Current())

	require.NoError(t, pb.Pause("missing"))
	assert.Equal(t, []string{"play:a", "pause:a", "play:b", "pause:b"}, player.events)
}
