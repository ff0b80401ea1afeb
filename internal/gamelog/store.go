package gamelog

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotConfigured is returned by Open when no backend is configured.
var ErrNotConfigured = errors.New("gamelog backend not configured")

// Store persists game outcomes in append order.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open picks a backend: Redis when redisURL is set, otherwise Postgres
// when databaseURL is set.
func Open(ctx context.Context, redisURL, databaseURL string) (Store, error) {
	if strings.TrimSpace(redisURL) != "" {
		return NewRedisStore(ctx, redisURL)
	}
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return nil, ErrNotConfigured
}

// MemoryStore keeps entries for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func (m *MemoryStore) Close() error { return nil }
