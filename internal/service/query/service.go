package query

import (
	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	"github.com/zhouzirui/citychat/internal/service/history"
)

// Builder binds the prompt composition to a history window size.
type Builder struct {
	window int
}

// NewBuilder returns a Builder that uses the last window turns as context.
func NewBuilder(window int) *Builder {
	if window <= 0 {
		window = history.DefaultWindow
	}
	return &Builder{window: window}
}

// Window returns the configured history window.
func (b *Builder) Window() int {
	return b.window
}

// Build augments raw with the log's recent turns and the city entry. raw is
// excluded from the window when it is the newest user turn.
func (b *Builder) Build(raw string, log *history.Log, entry *city.Entry) string {
	return BuildAugmentedQuery(raw, entry, b.recent(log, raw))
}

// Context returns the context blocks without the wrapper, for voice queries.
func (b *Builder) Context(log *history.Log, entry *city.Entry, echo string) string {
	return ContextText(entry, b.recent(log, echo))
}

func (b *Builder) recent(log *history.Log, echo string) []chat.HistoryEntry {
	if log == nil || log.Len() == 0 {
		return nil
	}
	return log.RecentWindow(b.window, echo)
}
