package pool

import (
	"sync"
	"time"

	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

// Pool is the thread-safe collection of Proxy records (C2). All reads of
// the healthy view go through a consistent snapshot; membership writes are
// serialized under mu. Stat updates only take mu's read lock for the ID
// lookup and then write under the Proxy's own lock (see proxy.go), which
// guarantees that two concurrent UpdateStats calls on the same proxy never
// lose a recorded outcome.
type Pool struct {
	mu      sync.RWMutex
	byID    map[string]*Proxy
	byKey   map[string]*Proxy // (host,port) dedup key -> proxy
	order   []*Proxy          // insertion order, for deterministic round-robin
	maxSize int               // 0 means unbounded
}

// New creates an empty pool. maxSize of 0 means unbounded.
func New(maxSize int) *Pool {
	return &Pool{
		byID:    make(map[string]*Proxy),
		byKey:   make(map[string]*Proxy),
		maxSize: maxSize,
	}
}

// Add inserts a proxy, failing with DuplicateProxy (PROXY_ALREADY_EXISTS) if
// another entry shares its (host, port), or PoolFull if the pool is at
// capacity.
func (p *Pool) Add(px *Proxy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := px.Endpoint.key()
	if _, exists := p.byKey[key]; exists {
		return proxyerr.New(proxyerr.CodeProxyAlreadyExists, "proxy with this host:port already exists")
	}
	if p.maxSize > 0 && len(p.order) >= p.maxSize {
		return proxyerr.New(proxyerr.CodePoolFull, "pool is at capacity")
	}

	p.byID[px.ID] = px
	p.byKey[key] = px
	p.order = append(p.order, px)
	return nil
}

// Remove deletes a proxy by ID.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.byID[id]
	if !ok {
		return proxyerr.New(proxyerr.CodeProxyNotFound, "no proxy with this id")
	}
	p.removeLocked(px)
	return nil
}

// RemoveByEndpoint deletes a proxy by its (host, port) key. Used by the
// Health Monitor so eviction survives identity drift (spec §4.6).
func (p *Pool) RemoveByEndpoint(host string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := Endpoint{Host: host, Port: port}.key()
	px, ok := p.byKey[key]
	if !ok {
		return proxyerr.New(proxyerr.CodeProxyNotFound, "no proxy with this host:port")
	}
	p.removeLocked(px)
	return nil
}

func (p *Pool) removeLocked(px *Proxy) {
	delete(p.byID, px.ID)
	delete(p.byKey, px.Endpoint.key())
	for i, o := range p.order {
		if o == px {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Get performs an exact lookup by ID.
func (p *Pool) Get(id string) (*Proxy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	px, ok := p.byID[id]
	if !ok {
		return nil, proxyerr.New(proxyerr.CodeProxyNotFound, "no proxy with this id")
	}
	return px, nil
}

// All returns a snapshot of every proxy in insertion order, alive or not.
func (p *Pool) All() []*Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Proxy, len(p.order))
	copy(out, p.order)
	return out
}

// HealthyView returns a stable, insertion-ordered snapshot of proxies whose
// health is in {unknown, healthy, degraded} and which have not expired as
// of now. Strategies rely on this ordering for round-robin reproducibility
// (spec §4.1).
func (p *Pool) HealthyView(now time.Time) []*Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Proxy, 0, len(p.order))
	for _, px := range p.order {
		if px.IsEligible(now) {
			out = append(out, px)
		}
	}
	return out
}

// RemoveExpired drops every proxy whose TTL has elapsed and returns the
// count removed.
func (p *Pool) RemoveExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []*Proxy
	for _, px := range p.order {
		if px.IsExpired(now) {
			expired = append(expired, px)
		}
	}
	for _, px := range expired {
		p.removeLocked(px)
	}
	return len(expired)
}

// Len returns the total number of proxies in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// UpdateStats atomically applies an outcome to the named proxy's mutable
// cell. This is the only path by which request outcomes reach a Proxy — the
// Pool is the sole owner of proxy cells (spec §9).
func (p *Pool) UpdateStats(id string, outcome Outcome) error {
	px, err := p.Get(id)
	if err != nil {
		return err
	}
	px.applyOutcome(outcome, time.Now())
	return nil
}

// MarkDead transitions a proxy to the terminal dead state without removing
// it from the pool (callers typically follow with Remove/RemoveByEndpoint).
func (p *Pool) MarkDead(id string) error {
	px, err := p.Get(id)
	if err != nil {
		return err
	}
	px.markDead()
	return nil
}

// Promote resets a proxy's consecutive_failures and nudges its health
// toward healthy, on a successful Health Monitor probe (spec §4.6). Returns
// a PROXY_NOT_FOUND proxyerr as a no-op signal if the proxy has since
// been removed from the pool — the Health Monitor treats that race as
// benign, not a failure.
func (p *Pool) Promote(id string) error {
	px, err := p.Get(id)
	if err != nil {
		return err
	}
	px.promote()
	return nil
}

// RecordProbeFailure increments a proxy's consecutive_failures on a failed
// Health Monitor probe and returns the new count so the caller can decide
// whether the failure_threshold has been reached.
func (p *Pool) RecordProbeFailure(id string) (int64, error) {
	px, err := p.Get(id)
	if err != nil {
		return 0, err
	}
	return px.recordProbeFailure(), nil
}
