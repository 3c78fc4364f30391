package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/citychat/internal/transport"
	"github.com/zhouzirui/citychat/internal/widget"
)

var extensionTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".wav":  "audio/wav",
}

func audioType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// fileRecorder "captures" an existing audio file.
type fileRecorder struct {
	path     string
	duration float64
	started  bool
}

func (f *fileRecorder) Start(_ context.Context, _ string) error {
	if _, err := os.Stat(f.path); err != nil {
		return err
	}
	f.started = true
	return nil
}

func (f *fileRecorder) Stop(_ context.Context) (widget.Recording, error) {
	if !f.started {
		return widget.Recording{}, widget.ErrNotRecording
	}
	f.started = false
	data, err := os.ReadFile(f.path)
	if err != nil {
		return widget.Recording{}, err
	}
	return widget.Recording{Data: data, MIMEType: audioType(f.path), Duration: f.duration}, nil
}

// filePlayer "plays" a clip by writing it to disk.
type filePlayer struct {
	out     string
	written string
}

func (p *filePlayer) Play(_ context.Context, item widget.AudioItem) error {
	path := p.out
	if path == "" {
		path = item.ID + filepath.Ext(transport.RecordingFilename(item.MIMEType))
	}
	if err := os.WriteFile(path, item.Data, 0o644); err != nil {
		return err
	}
	p.written = path
	return nil
}

func (p *filePlayer) Pause(string) error { return nil }

func newVoiceCmd(rt *runtime) *cobra.Command {
	var (
		out      string
		language string
		duration float64
	)

	cmd := &cobra.Command{
		Use:   "voice <file>",
		Short: "Send an audio file as a voice question",
		Long: `Send an audio file as a voice question. The transcription is
printed and the spoken reply is written to --out.`,
		Args: cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			media := widget.NewMedia(&fileRecorder{path: path, duration: duration}, func(m string) bool {
				return m == audioType(path)
			})
			if err := media.StartRecording(ctx); err != nil {
				return errors.New(widget.ErrorText(err))
			}
			rec, err := media.StopRecording(ctx)
			if err != nil {
				return errors.New(widget.ErrorText(err))
			}
			if language != "" {
				rec.Language = language
			}

			ex, err := rt.app.Controller.SendVoice(ctx, rt.user, rt.page, rec)
			if errors.Is(err, widget.ErrEmptyMessage) {
				return fmt.Errorf("%s is empty", path)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if ex.NewSession {
				fmt.Fprintf(w, "(new session %s)\n", ex.SessionID)
			}
			fmt.Fprintf(w, "You: %s\n", ex.User.Text)
			if ex.Failed || ex.Bot.AudioData == "" {
				fmt.Fprintln(w, ex.Bot.Text)
				return nil
			}

			audio, err := base64.StdEncoding.DecodeString(ex.Bot.AudioData)
			if err != nil {
				return fmt.Errorf("decoding reply audio: %w", err)
			}
			player := &filePlayer{out: out}
			playback := widget.NewPlayback(player)
			if err := playback.Play(ctx, widget.AudioItem{ID: "reply-" + ex.SessionID, Data: audio, MIMEType: ex.Bot.AudioMIME}); err != nil {
				return fmt.Errorf("saving reply audio: %w", err)
			}
			fmt.Fprintf(w, "Reply audio written to %s\n", player.written)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "File for the spoken reply (default reply-<session>.<ext>)")
	cmd.Flags().StringVar(&language, "language", "", "Speech language, e.g. fa-IR")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Length of the recording in seconds")
	return cmd
}
