package strategy

import (
	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// LeastUsed returns the proxy with the smallest in-flight count, breaking
// ties by smallest total_requests and then by insertion (view) order
// (spec §4.2.4). It is the only strategy that mutates a Proxy cell during
// selection: InFlight is incremented here and decremented in RecordResult.
type LeastUsed struct{}

func NewLeastUsed() *LeastUsed {
	return &LeastUsed{}
}

func (l *LeastUsed) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	var best *pool.Proxy
	var bestInFlight, bestTotal int64

	for _, px := range view {
		if !notFailed(ctx, px.ID) {
			continue
		}
		inFlight := px.InFlight.Load()
		total := px.Snapshot().TotalRequests
		if best == nil || inFlight < bestInFlight ||
			(inFlight == bestInFlight && total < bestTotal) {
			best, bestInFlight, bestTotal = px, inFlight, total
		}
	}
	if best == nil {
		return nil, ErrNoProxiesAvailable
	}
	best.InFlight.Add(1)
	return best, nil
}

func (l *LeastUsed) RecordResult(px *pool.Proxy, _ pool.Outcome) {
	if px == nil {
		return
	}
	px.InFlight.Add(-1)
}
