package strategy

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// SessionConfig tunes SessionPersistence.
type SessionConfig struct {
	// CacheSize bounds the sticky-session LRU (session_key -> proxy_id).
	CacheSize int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{CacheSize: 10_000}
}

func SessionConfigFromMap(cfg map[string]any) SessionConfig {
	c := DefaultSessionConfig()
	if v, ok := cfg["cache_size"].(int); ok && v > 0 {
		c.CacheSize = v
	}
	return c
}

// SessionPersistence hashes ctx.SessionKey to a stable proxy for the
// lifetime of the session, rehashing to a new proxy (and staying sticky
// again) once the pinned proxy becomes ineligible (spec §4.2.6).
type SessionPersistence struct {
	cache  *lru.Cache[string, string] // session_key -> proxy_id
	cursor atomic.Uint64              // fallback round-robin when no session key is set
	mu     sync.Mutex
}

func NewSessionPersistence(cfg SessionConfig) (*SessionPersistence, error) {
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &SessionPersistence{cache: cache}, nil
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func (s *SessionPersistence) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	if len(view) == 0 {
		return nil, ErrNoProxiesAvailable
	}

	if ctx.SessionKey == "" {
		// No session to stick to: fall back to a simple rotating pick so
		// anonymous callers still spread load.
		start := s.cursor.Add(1) - 1
		n := uint64(len(view))
		for i := uint64(0); i < n; i++ {
			idx := (start + i) % n
			if notFailed(ctx, view[idx].ID) {
				return view[idx], nil
			}
		}
		return nil, ErrNoProxiesAvailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pinnedID, ok := s.cache.Get(ctx.SessionKey); ok {
		for _, px := range view {
			if px.ID == pinnedID && notFailed(ctx, px.ID) {
				return px, nil
			}
		}
		// Pinned proxy is gone or ineligible — fall through to rehash.
	}

	eligible := filterFailed(view, ctx)
	if len(eligible) == 0 {
		return nil, ErrNoProxiesAvailable
	}
	idx := int(hashKey(ctx.SessionKey) % uint64(len(eligible)))
	chosen := eligible[idx]
	s.cache.Add(ctx.SessionKey, chosen.ID)
	return chosen, nil
}

func (s *SessionPersistence) RecordResult(*pool.Proxy, pool.Outcome) {}
