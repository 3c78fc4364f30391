package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/widget"
)

func newAskCmd(rt *runtime) *cobra.Command {
	var attach string

	cmd := &cobra.Command{
		Use:   "ask <text...>",
		Short: "Send a text question",
		Args:  cobra.MinimumNArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			msg := widget.Message{Text: strings.Join(args, " ")}
			if attach != "" {
				att, err := readAttachment(attach)
				if err != nil {
					return err
				}
				msg.Attachment = att
			}

			ex, err := rt.app.Controller.SendMessage(cmd.Context(), rt.user, rt.page, msg)
			if errors.Is(err, widget.ErrEmptyMessage) {
				return fmt.Errorf("nothing to send")
			}
			if err != nil {
				return err
			}
			printExchange(cmd.OutOrStdout(), ex)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&attach, "attach", "a", "", "File to send along with the question")
	return cmd
}

// readAttachment loads path as an inline attachment. The type comes from
// the extension, falling back to content sniffing.
func readAttachment(path string) (*chat.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &chat.Attachment{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}, nil
}

func newHistoryCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the conversation of the live session",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			entries := rt.app.Controller.History(cmd.Context(), rt.user, rt.page)
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No messages in this session.")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		}),
	}
}

func newClearCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation of the live session",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			rt.app.Controller.ClearHistory(cmd.Context(), rt.user, rt.page)
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		}),
	}
}

func newSessionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the live session, starting one if needed",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			snap := rt.app.Controller.Start(cmd.Context(), rt.user, rt.page)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:   %s\n", snap.Session.ID)
			fmt.Fprintf(out, "User:      %s\n", rt.user)
			fmt.Fprintf(out, "Started:   %s\n", snap.Session.StartedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Activity:  %s\n", snap.Session.LastActivity.Local().Format(time.DateTime))
			if snap.Session.ActiveCitySlug != "" {
				fmt.Fprintf(out, "City:      %s\n", snap.Session.ActiveCitySlug)
			}
			fmt.Fprintf(out, "Messages:  %d\n", len(snap.History))
			if snap.IsNew {
				fmt.Fprintln(out, "(new session)")
			}
			return nil
		}),
	}
}

func printExchange(out io.Writer, ex widget.Exchange) {
	if ex.NewSession {
		fmt.Fprintf(out, "(new session %s)\n", ex.SessionID)
	}
	fmt.Fprintln(out, ex.Bot.Text)
}

func printEntry(out io.Writer, e chat.HistoryEntry) {
	who := "You"
	if e.Role == chat.RoleBot {
		who = "Assistant"
	}
	text := e.Text
	if e.IsAudio() && e.Duration > 0 {
		text = fmt.Sprintf("%s (%.1fs)", text, e.Duration)
	}
	if e.Attachment != nil {
		text = fmt.Sprintf("%s [%s attached]", text, e.Attachment.MIMEType)
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", e.Timestamp.Local().Format("15:04"), who, text)
}
