package strategy

import (
	"sync/atomic"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// RoundRobin holds a monotonically increasing cursor and returns
// view[cursor mod len(view)], skipping entries in ctx.FailedProxyIDs for up
// to len(view) attempts (spec §4.2.1). The cursor advances exactly once per
// Select call, independent of how many entries were skipped.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin constructs a fresh round-robin strategy with cursor at 0.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	if len(view) == 0 {
		return nil, ErrNoProxiesAvailable
	}
	start := r.cursor.Add(1) - 1
	n := uint64(len(view))
	for i := uint64(0); i < n; i++ {
		idx := (start + i) % n
		if notFailed(ctx, view[idx].ID) {
			return view[idx], nil
		}
	}
	return nil, ErrNoProxiesAvailable
}

func (r *RoundRobin) RecordResult(*pool.Proxy, pool.Outcome) {}
