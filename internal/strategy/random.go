package strategy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// Random selects uniformly over view \ ctx.FailedProxyIDs using a seeded
// PRNG owned by the strategy instance (spec §4.2.2).
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom constructs a Random strategy. A zero seed derives one from the
// wall clock; pass a fixed seed for reproducible tests.
func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rnd: rand.New(rand.NewSource(seed))}
}

func (r *Random) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	eligible := filterFailed(view, ctx)
	if len(eligible) == 0 {
		return nil, ErrNoProxiesAvailable
	}
	r.mu.Lock()
	idx := r.rnd.Intn(len(eligible))
	r.mu.Unlock()
	return eligible[idx], nil
}

func (r *Random) RecordResult(*pool.Proxy, pool.Outcome) {}
