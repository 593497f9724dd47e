// Package store defines the narrow persistence seam named in spec §6: a
// Pool snapshot can be saved and reloaded without the core depending on any
// particular backend. Real backends (file, embedded SQL) stay external;
// MemoryStore here is a reference implementation used by tests and by
// callers with no persistence requirement.
package store

import (
	"context"
	"sync"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

// Store saves and loads a full Pool snapshot. Implementations must round
// trip every field Snapshot names except transient counters, which may
// reset by policy (spec §8 "Round-trip / idempotence").
type Store interface {
	SavePool(ctx context.Context, snapshot []pool.Stats) error
	LoadPool(ctx context.Context) ([]pool.Stats, error)
}

// MemoryStore is an in-process Store, useful for tests and for callers that
// want the Store seam without a real backend.
type MemoryStore struct {
	mu   sync.RWMutex
	snap []pool.Stats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SavePool(_ context.Context, snapshot []pool.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = append([]pool.Stats(nil), snapshot...)
	return nil
}

func (m *MemoryStore) LoadPool(_ context.Context) ([]pool.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return nil, proxyerr.New(proxyerr.CodeStoreUnavailable, "no pool snapshot has been saved yet")
	}
	return append([]pool.Stats(nil), m.snap...), nil
}

// Snapshot gathers every proxy currently in p into a form suitable for
// Store.SavePool.
func Snapshot(p *pool.Pool) []pool.Stats {
	all := p.All()
	out := make([]pool.Stats, 0, len(all))
	for _, px := range all {
		out = append(out, px.Snapshot())
	}
	return out
}

// Restore rebuilds pool membership and identity fields from a snapshot.
// Stats fields (counters, health, latency) are not replayed into the
// restored proxies: round-tripping reproduces membership and identity, not
// transient counters, matching spec §8's round-trip property. Credentials
// are not restored, since Stats carries none, and restored proxies have no
// TTL.
func Restore(p *pool.Pool, snapshot []pool.Stats) error {
	for _, s := range snapshot {
		px := pool.NewProxy(s.Endpoint, nil, s.CountryCode, s.Region, s.SourceTag, 0)
		px.ID = s.ID
		px.CreatedAt = s.CreatedAt
		if err := p.Add(px); err != nil {
			return err
		}
	}
	return nil
}
