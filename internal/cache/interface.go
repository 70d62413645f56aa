// Package cache keeps read-through counters for follower and engagement
// counts in front of the document store.
package cache

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the counted quantity.
type Kind string

const (
	KindFollowers Kind = "followers"
	KindFollowing Kind = "following"
	KindLikes     Kind = "likes"
	KindSaves     Kind = "saves"
)

// Counter names one cached count.
type Counter struct {
	Kind Kind
	ID   string
}

func (c Counter) String() string { return string(c.Kind) + ":" + c.ID }

// ParseCounter is the inverse of Counter.String.
func ParseCounter(s string) (Counter, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Counter{}, fmt.Errorf("malformed counter %q", s)
	}
	switch k := Kind(kind); k {
	case KindFollowers, KindFollowing, KindLikes, KindSaves:
		return Counter{Kind: k, ID: id}, nil
	default:
		return Counter{}, fmt.Errorf("unknown counter kind %q", kind)
	}
}

// CounterStore caches counts and tracks which ones are read most.
// Incremental updates only touch counters that are already cached, so a
// cold key is always filled from the store first.
type CounterStore interface {
	Get(ctx context.Context, c Counter) (int64, bool, error)
	Set(ctx context.Context, c Counter, n int64) error
	CondIncr(ctx context.Context, c Counter) error
	CondDecr(ctx context.Context, c Counter) error
	RecordAccess(ctx context.Context, c Counter) error
	TopHotKeys(ctx context.Context, n int64) ([]Counter, error)
	ResetHotKeys(ctx context.Context) error
	Close() error
}
