// Package city caches per-user city scoring summaries supplied by host
// pages, so a conversation keeps its location context across sessions.
package city

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	"github.com/zhouzirui/citychat/internal/storage"
)

// Cache stores one Entry per city slug for each user key.
type Cache struct {
	kv     storage.Store
	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex
}

// NewCache returns a Cache backed by kv.
func NewCache(kv storage.Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		kv:     kv,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("city"),
	}
}

// SetClock overrides the time source used for UpdatedAt.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// RefreshFromPage normalises summary and overwrites the cached entry for
// slug. A nil summary leaves the cache untouched.
func (c *Cache) RefreshFromPage(ctx context.Context, userKey, slug string, summary *city.PageSummary) (city.Entry, bool) {
	if summary == nil {
		return city.Entry{}, false
	}
	if slug == "" {
		slug = summary.Slug
	}
	if slug == "" {
		return city.Entry{}, false
	}

	entry := Summarize(slug, summary)
	entry.UpdatedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load(ctx, userKey)
	entries[slug] = entry
	if err := storage.SetJSON(ctx, c.kv, storage.CitiesKey(userKey), entries); err != nil {
		c.logger.Warn("persist city context failed", zap.String("slug", slug), zap.Error(err))
	}
	return entry, true
}

// Get returns the cached entry for slug.
func (c *Cache) Get(ctx context.Context, userKey, slug string) (city.Entry, bool) {
	if slug == "" {
		return city.Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.load(ctx, userKey)[slug]
	return entry, ok
}

// ActiveSlug prefers the page's city over the one stored on the session.
func ActiveSlug(page city.PageContext, s chat.Session) string {
	if page.CitySlug != "" {
		return page.CitySlug
	}
	return s.ActiveCitySlug
}

func (c *Cache) load(ctx context.Context, userKey string) map[string]city.Entry {
	entries := map[string]city.Entry{}
	err := storage.GetJSON(ctx, c.kv, storage.CitiesKey(userKey), &entries)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("city context unreadable, starting empty", zap.String("user", userKey), zap.Error(err))
		return map[string]city.Entry{}
	}
	if entries == nil {
		entries = map[string]city.Entry{}
	}
	return entries
}

// Summarize converts a page summary into a cache entry. Scores that are not
// numeric count as 0; the average is rounded to two decimals.
func Summarize(slug string, summary *city.PageSummary) city.Entry {
	fields := make([]city.Field, 0, len(summary.Fields))
	var total float64
	for _, f := range summary.Fields {
		score := NormalizeScore(f.Score)
		total += score
		fields = append(fields, city.Field{Name: f.Name, Score: score})
	}

	var avg float64
	if len(fields) > 0 {
		avg = math.Round(total/float64(len(fields))*100) / 100
	}

	return city.Entry{
		Name:         summary.Name,
		Slug:         slug,
		AverageScore: avg,
		Fields:       fields,
	}
}

// NormalizeScore reads a JSON number or numeric string; anything else is 0.
func NormalizeScore(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return finite(num)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return finite(v)
		}
	}
	return 0
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
