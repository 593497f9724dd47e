// Package strategy implements the pluggable proxy-selection strategies
// (C3), their composition (C4), and the process-wide registry (C5).
package strategy

import (
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

// Strategy selects one proxy from a filtered pool view per request and
// observes the outcome of using it. Select must be pure with respect to the
// Pool — it never performs I/O and never mutates Pool state; it may mutate
// its own internal bookkeeping (a round-robin cursor, a sticky-session
// cache, a rolling performance window).
type Strategy interface {
	// Select returns one proxy from view, or fails with
	// ErrNoProxiesAvailable. Implementations must never return a proxy
	// whose ID is in ctx.FailedProxyIDs.
	Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error)

	// RecordResult feeds the outcome of a forward attempt back into the
	// strategy's own state (if any). It never touches Pool state — that is
	// the Rotator's job via Pool.UpdateStats.
	RecordResult(px *pool.Proxy, outcome pool.Outcome)
}

// Filter narrows a pool view to a predicate-matching subset. GeoTargeted is
// the canonical strategy that is also usable as a Filter inside a
// CompositeStrategy (spec §4.2.8).
type Filter interface {
	Apply(view []*pool.Proxy, ctx SelectionContext) []*pool.Proxy
}

// ErrNoProxiesAvailable is returned when a strategy's view (after any
// filtering and after excluding already-failed proxies) is empty.
var ErrNoProxiesAvailable = proxyerr.New(proxyerr.CodeNoProxiesAvailable, "no proxies available for selection")

// notFailed reports whether id is absent from the failed set.
func notFailed(ctx SelectionContext, id string) bool {
	_, failed := ctx.FailedProxyIDs[id]
	return !failed
}

// filterFailed returns the subset of view excluding already-failed proxies,
// preserving order.
func filterFailed(view []*pool.Proxy, ctx SelectionContext) []*pool.Proxy {
	out := make([]*pool.Proxy, 0, len(view))
	for _, px := range view {
		if notFailed(ctx, px.ID) {
			out = append(out, px)
		}
	}
	return out
}
