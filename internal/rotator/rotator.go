// Package rotator implements the request forwarder (C10): select a proxy,
// transport the request through it, record the outcome, and fail over to a
// different proxy on transport failure up to max_retries.
package rotator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wyattowalsh/proxywhirl/internal/metrics"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
	"github.com/wyattowalsh/proxywhirl/internal/strategy"
	"github.com/wyattowalsh/proxywhirl/internal/upstream"
)

// Config tunes forward's retry behaviour.
type Config struct {
	MaxRetries int
	ReqTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxRetries: 3, ReqTimeout: 10 * time.Second}
}

// strategyHolder lets SetStrategy swap the active Strategy atomically
// without requiring every Rotator method to take a lock (spec §4.3 "Strategy
// hot-swap": in-flight requests keep the strategy they started with).
type strategyHolder struct {
	v atomic.Value // strategy.Strategy
}

func (h *strategyHolder) load() strategy.Strategy {
	return h.v.Load().(strategy.Strategy)
}

func (h *strategyHolder) store(s strategy.Strategy) {
	h.v.Store(s)
}

// Transport dials destination through px and performs req. Separated as an
// interface so tests can substitute a fake transport without a real
// network hop; upstreamTransport is the production implementation.
type Transport interface {
	RoundTrip(ctx context.Context, px *pool.Proxy, req *http.Request) (*http.Response, error)
}

type upstreamTransport struct{}

func (upstreamTransport) RoundTrip(ctx context.Context, px *pool.Proxy, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return upstream.Dial(ctx, px.URL(), addr)
			},
		},
	}
	return client.Do(req.Clone(ctx))
}

// Rotator forwards requests through the pool according to its current
// strategy, with bounded retries and per-proxy failover.
type Rotator struct {
	pool  *pool.Pool
	strat strategyHolder
	cfg   Config
	log   *zap.Logger
	xport Transport

	limiterMu sync.RWMutex
	limiter   *ratelimit.Limiter
	tier      ratelimit.Tier
}

func New(p *pool.Pool, initial strategy.Strategy, cfg Config, log *zap.Logger) *Rotator {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.ReqTimeout == 0 {
		cfg.ReqTimeout = DefaultConfig().ReqTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rotator{pool: p, cfg: cfg, log: log.Named("rotator"), xport: upstreamTransport{}}
	r.strat.store(initial)
	return r
}

// SetTransport overrides the transport used to reach the origin through a
// chosen proxy. Exposed for tests; production callers should rely on the
// default.
func (r *Rotator) SetTransport(t Transport) {
	r.xport = t
}

// SetStrategy atomically swaps the active strategy. In-flight forward calls
// keep using the strategy reference they already loaded; only new
// selections observe the swap.
func (r *Rotator) SetStrategy(s strategy.Strategy) {
	r.strat.store(s)
}

// AttachRateLimiter wires a rate limiter and the tier to evaluate every
// forward against. Passing a nil limiter detaches rate limiting.
func (r *Rotator) AttachRateLimiter(l *ratelimit.Limiter, tier ratelimit.Tier) {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()
	r.limiter = l
	r.tier = tier
}

// ForwardResult bundles a successful forward's response with the proxy that
// served it, useful for REST-layer logging and tests.
type ForwardResult struct {
	Response *http.Response
	ProxyID  string
	Attempts int
}

// Forward selects a proxy, transports req through it, and fails over to
// another proxy on transport failure, making at most max_retries attempts
// in total (spec §4.3). identifier, if
// non-empty, is the rate-limit subject; an empty identifier skips rate
// limiting regardless of whether a limiter is attached.
func (r *Rotator) Forward(ctx context.Context, req *http.Request, identifier string) (*ForwardResult, error) {
	if err := r.checkRateLimit(ctx, identifier, req.URL.Path); err != nil {
		return nil, err
	}

	selCtx := strategy.NewContext()
	strat := r.strat.load()

	var lastErrKind proxyerr.ErrorKind
	selectionFailed := false
	attempts := 0
	allTargetOrigin := true

	for attempts < r.cfg.MaxRetries {
		view := r.pool.HealthyView(time.Now())
		px, err := strat.Select(view, selCtx)
		if err != nil {
			selectionFailed = true
			break
		}

		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.ReqTimeout)
		start := time.Now()
		resp, transportErr := r.xport.RoundTrip(reqCtx, px, req)
		latency := time.Since(start)
		cancel()

		if transportErr == nil {
			r.recordOutcome(strat, px, pool.Outcome{OK: true, LatencyMs: float64(latency.Milliseconds())})
			metrics.RotatorForwardsTotal.WithLabelValues("ok").Inc()
			return &ForwardResult{Response: resp, ProxyID: px.ID, Attempts: attempts + 1}, nil
		}

		kind, targetOrigin := proxyerr.ClassifyDialErr(transportErr)
		lastErrKind = kind
		if !targetOrigin {
			allTargetOrigin = false
		}
		// A target-origin failure still credits the proxy as ok: it
		// reached the destination and faithfully reported it was down.
		r.recordOutcome(strat, px, pool.Outcome{OK: targetOrigin, ErrorKind: kind})
		selCtx = selCtx.WithFailed(px.ID)
		attempts++
		metrics.RotatorFailoversTotal.WithLabelValues().Inc()
		r.log.Debug("forward attempt failed",
			zap.String("proxy", px.String()),
			zap.String("error_kind", string(kind)),
			zap.Bool("target_origin", targetOrigin),
			zap.Int("attempt", attempts))
	}

	metrics.RotatorForwardsTotal.WithLabelValues("failed").Inc()
	return nil, r.classifyFinalError(selectionFailed, lastErrKind, attempts, allTargetOrigin)
}

func (r *Rotator) recordOutcome(strat strategy.Strategy, px *pool.Proxy, o pool.Outcome) {
	_ = r.pool.UpdateStats(px.ID, o)
	strat.RecordResult(px, o)
}

// classifyFinalError picks the most informative error per spec §4.3 step 4:
// NoProxiesAvailable if selection never even found a proxy, TargetUnreachable
// if every attempt this call made was target-origin (every proxy reached
// the destination but it was down), otherwise FailoverExhausted.
func (r *Rotator) classifyFinalError(selectionFailed bool, lastErrKind proxyerr.ErrorKind, attempts int, allTargetOrigin bool) error {
	if selectionFailed && attempts == 0 {
		return proxyerr.New(proxyerr.CodeNoProxiesAvailable, "no proxies available for selection")
	}
	if attempts > 0 && allTargetOrigin {
		return proxyerr.New(proxyerr.CodeTargetUnreachable, "target unreachable through every proxy tried").
			WithDetails(map[string]any{"attempts": attempts})
	}
	return proxyerr.New(proxyerr.CodeFailoverExhausted, "all proxies failed").
		WithDetails(map[string]any{"attempts": attempts, "last_error_kind": string(lastErrKind)})
}

func (r *Rotator) checkRateLimit(ctx context.Context, identifier, endpoint string) error {
	if identifier == "" {
		return nil
	}
	r.limiterMu.RLock()
	limiter := r.limiter
	tier := r.tier
	r.limiterMu.RUnlock()
	if limiter == nil {
		return nil
	}

	d := limiter.Check(ctx, identifier, endpoint, tier)
	metrics.RateLimitDecisionsTotal.WithLabelValues(fmt.Sprintf("%t", d.Allowed)).Inc()
	if !d.Allowed {
		return proxyerr.New(proxyerr.CodeRateLimited, "rate limit exceeded").
			WithDetails(map[string]any{"retry_after_ms": d.RetryAfter.Milliseconds()})
	}
	return nil
}
