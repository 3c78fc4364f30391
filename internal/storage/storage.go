// Package storage provides the key-value persistence used for sessions,
// history logs and city context. Values are JSON blobs.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrCorrupt  = errors.New("storage: stored value is corrupt")
)

// Store is a namespaced key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads key into dst. Malformed data yields ErrCorrupt.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// SetJSON encodes value and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

const keyPrefix = "citychat"

// SessionKey is where the live session of a user is stored.
func SessionKey(userKey string) string {
	return fmt.Sprintf("%s:%s:session", keyPrefix, userKey)
}

// HistoryKey is where the history log of one session is stored.
func HistoryKey(userKey, sessionID string) string {
	return fmt.Sprintf("%s:%s:history:%s", keyPrefix, userKey, sessionID)
}

// CitiesKey is where the per-user city context map is stored.
func CitiesKey(userKey string) string {
	return fmt.Sprintf("%s:%s:cities", keyPrefix, userKey)
}
