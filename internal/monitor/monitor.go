// Package monitor implements the Health Monitor (C8): a single background
// task per rotator instance that periodically revalidates pool membership
// and evicts proxies that exceed a consecutive-failure threshold.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wyattowalsh/proxywhirl/internal/metrics"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/validator"
)

// Config parameterizes the monitor loop (spec §4.6).
type Config struct {
	CheckInterval    time.Duration
	FailureThreshold int64
	ConcurrencyCap   int
	ProbeLevel       validator.Level

	// EvictionHandler, if set, is invoked for every proxy the monitor
	// evicts, after it has already been removed from the pool.
	EvictionHandler func(ep pool.Endpoint)
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:    30 * time.Second,
		FailureThreshold: 5,
		ConcurrencyCap:   20,
		ProbeLevel:       validator.BASIC,
	}
}

// Monitor orchestrates background health checks over a Pool.
type Monitor struct {
	pool *pool.Pool
	val  *validator.Validator
	cfg  Config
	log  *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(p *pool.Pool, val *validator.Validator, cfg Config, log *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ConcurrencyCap == 0 {
		cfg.ConcurrencyCap = DefaultConfig().ConcurrencyCap
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{pool: p, val: val, cfg: cfg, log: log.Named("monitor")}
}

// Start launches the background loop. Idempotent: calling it again while
// already running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
}

// Stop cancels the background loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.RunOnce(context.Background())
		case <-m.stop:
			return
		}
	}
}

// RunOnce performs a single health-check pass over a snapshot of the pool's
// current membership. Safe to call directly (e.g. on startup).
func (m *Monitor) RunOnce(ctx context.Context) {
	start := time.Now()
	proxies := m.pool.All()
	m.log.Debug("check pass started", zap.Int("count", len(proxies)))

	sem := make(chan struct{}, m.cfg.ConcurrencyCap)
	var wg sync.WaitGroup

	for _, px := range proxies {
		px := px
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			m.checkOne(ctx, px)
		}()
	}
	wg.Wait()

	metrics.MonitorPassDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	m.log.Debug("check pass done", zap.Int("pool_len", m.pool.Len()))
}

// checkOne probes a single proxy and applies the promote/evict state
// transition of spec §4.6. "proxy no longer in pool" — a race between
// scheduling this probe and the user removing the proxy — is treated as a
// no-op, not an error.
func (m *Monitor) checkOne(ctx context.Context, px *pool.Proxy) {
	res := m.val.Validate(ctx, px, m.cfg.ProbeLevel)

	if res.Success {
		metrics.MonitorProbesTotal.WithLabelValues("ok").Inc()
		if err := m.pool.Promote(px.ID); err != nil && !isNotFound(err) {
			m.log.Warn("promote failed", zap.String("proxy", px.String()), zap.Error(err))
		}
		return
	}

	metrics.MonitorProbesTotal.WithLabelValues("fail").Inc()
	failures, err := m.pool.RecordProbeFailure(px.ID)
	if err != nil {
		if !isNotFound(err) {
			m.log.Warn("record probe failure failed", zap.String("proxy", px.String()), zap.Error(err))
		}
		return
	}

	if failures < m.cfg.FailureThreshold {
		return
	}

	ep := px.Endpoint
	if err := m.pool.RemoveByEndpoint(ep.Host, ep.Port); err != nil {
		if !isNotFound(err) {
			m.log.Warn("evict failed", zap.String("proxy", px.String()), zap.Error(err))
		}
		return
	}

	metrics.MonitorEvictionsTotal.WithLabelValues().Inc()
	m.log.Info("evicted proxy", zap.String("proxy", px.String()), zap.Int64("consecutive_failures", failures))
	if m.cfg.EvictionHandler != nil {
		m.cfg.EvictionHandler(ep)
	}
}

func isNotFound(err error) bool {
	perr, ok := err.(*proxyerr.Error)
	return ok && perr.Code == proxyerr.CodeProxyNotFound
}
