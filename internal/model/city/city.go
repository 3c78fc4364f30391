package city

import (
	"encoding/json"
	"time"
)

// Field is a single scored aspect of a city.
type Field struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Entry is the cached scoring summary for one city.
type Entry struct {
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	AverageScore float64   `json:"averageScore"`
	Fields       []Field   `json:"fields"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PageField is a field as the host page renders it. Score is left raw
// because pages emit numbers, numeric strings and placeholders alike.
type PageField struct {
	Name  string          `json:"name"`
	Score json.RawMessage `json:"score"`
}

// PageSummary is the in-page city score object supplied by the host.
type PageSummary struct {
	Name   string      `json:"name"`
	Slug   string      `json:"slug,omitempty"`
	Fields []PageField `json:"fields"`
}

// PageContext carries the read-only attributes of the embedding page.
type PageContext struct {
	APIBase  string       `json:"apiBase,omitempty"`
	UserKey  string       `json:"userKey,omitempty"`
	PageType string       `json:"pageType,omitempty"`
	CityName string       `json:"cityName,omitempty"`
	CitySlug string       `json:"citySlug,omitempty"`
	Summary  *PageSummary `json:"summary,omitempty"`
}

// ScoreColor maps an average score to the colour band used on the map.
func ScoreColor(avg float64) string {
	switch {
	case avg >= 90:
		return "#008000"
	case avg >= 70:
		return "#66bb6a"
	case avg >= 50:
		return "#ffeb3b"
	case avg >= 20:
		return "#ff9800"
	default:
		return "#f44336"
	}
}
