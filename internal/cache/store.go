// Package cache is the query cache shared by the command client, the poller and the reconciler.
package cache

import (
	"context"
	"strings"
	"time"
)

// Entry 缓存条目
type Entry struct {
	Data      []byte    `json:"data"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the byte-level storage behind Client.
type Store interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	// Invalidate marks every entry under prefix as stale without dropping it.
	Invalidate(ctx context.Context, prefix string) (int, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}
