// Package query composes the prompt sent to the chat backend from the raw
// user query plus whatever city and conversation context is available.
package query

import (
	"strconv"
	"strings"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
)

const (
	contextOpen  = "[CONTEXT]"
	contextClose = "[/CONTEXT]"

	// VoicePlaceholder stands in for audio turns in the history block.
	VoicePlaceholder = "[voice message]"
)

// BuildAugmentedQuery wraps the available context blocks around raw. With
// no city context and no history the query is returned untouched.
func BuildAugmentedQuery(raw string, entry *city.Entry, window []chat.HistoryEntry) string {
	ctxText := ContextText(entry, window)
	if ctxText == "" {
		return raw
	}

	var b strings.Builder
	b.WriteString(contextOpen)
	b.WriteString("\n")
	b.WriteString(ctxText)
	b.WriteString("\n")
	b.WriteString(contextClose)
	b.WriteString("\n\n")
	b.WriteString(raw)
	return b.String()
}

// ContextText joins the present context blocks with a blank line.
func ContextText(entry *city.Entry, window []chat.HistoryEntry) string {
	blocks := make([]string, 0, 2)
	if text := cityBlock(entry); text != "" {
		blocks = append(blocks, text)
	}
	if text := historyBlock(window); text != "" {
		blocks = append(blocks, text)
	}
	return strings.Join(blocks, "\n\n")
}

func cityBlock(entry *city.Entry) string {
	if entry == nil || (entry.Name == "" && len(entry.Fields) == 0) {
		return ""
	}

	var b strings.Builder
	b.WriteString("City: ")
	b.WriteString(entry.Name)
	b.WriteString("\nAverage score: ")
	b.WriteString(formatScore(entry.AverageScore))
	if len(entry.Fields) > 0 {
		b.WriteString("\nScores:")
		for _, f := range entry.Fields {
			b.WriteString("\n- ")
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(formatScore(f.Score))
		}
	}
	return b.String()
}

func historyBlock(window []chat.HistoryEntry) string {
	if len(window) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, e := range window {
		b.WriteString("\n")
		b.WriteString(roleLabel(e.Role))
		b.WriteString(": ")
		if e.IsAudio() {
			b.WriteString(VoicePlaceholder)
		} else {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

func roleLabel(role chat.Role) string {
	if role == chat.RoleUser {
		return "User"
	}
	return "Assistant"
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
