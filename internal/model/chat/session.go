package chat

import "time"

// Session groups the turns of one bounded browsing session.
type Session struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivity   time.Time `json:"lastActivity"`
	ActiveCitySlug string    `json:"activeCitySlug,omitempty"`
}

// Expired reports whether the session is older than ttl at now.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.StartedAt) > ttl
}
