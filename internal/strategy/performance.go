package strategy

import (
	"sync"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// PerformanceConfig tunes the scoring function of spec §4.2.5. The spec
// leaves alpha/beta/gamma unconstrained across the source corpus; see
// DESIGN.md for the defaults chosen here.
type PerformanceConfig struct {
	Alpha           float64 // weight on success rate
	Beta            float64 // weight on normalized latency
	Gamma           float64 // weight on recent-failure pressure
	LatencyCeilMs   float64 // latency at which normalized_latency saturates to 1
	FailureWindow   int64   // consecutive failures at which pressure saturates to 1
}

func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{Alpha: 0.6, Beta: 0.3, Gamma: 0.1, LatencyCeilMs: 2000, FailureWindow: 5}
}

func PerformanceConfigFromMap(cfg map[string]any) PerformanceConfig {
	c := DefaultPerformanceConfig()
	if v, ok := cfg["alpha"].(float64); ok {
		c.Alpha = v
	}
	if v, ok := cfg["beta"].(float64); ok {
		c.Beta = v
	}
	if v, ok := cfg["gamma"].(float64); ok {
		c.Gamma = v
	}
	if v, ok := cfg["latency_ceil_ms"].(float64); ok && v > 0 {
		c.LatencyCeilMs = v
	}
	if v, ok := cfg["failure_window"].(int64); ok && v > 0 {
		c.FailureWindow = v
	}
	return c
}

type perfStats struct {
	mu             sync.Mutex
	successes      int64
	total          int64
	latencyEWMAMs  float64
	consecFailures int64
}

// PerformanceBased scores each eligible proxy and picks the arg-max. It
// maintains its own per-proxy rolling window, separate from Pool stats, so
// that hot-swapping strategies resets only this strategy's own history
// (spec §4.2.5, §9).
type PerformanceBased struct {
	cfg   PerformanceConfig
	mu    sync.Mutex
	stats map[string]*perfStats
}

func NewPerformanceBased(cfg PerformanceConfig) *PerformanceBased {
	return &PerformanceBased{cfg: cfg, stats: make(map[string]*perfStats)}
}

func (p *PerformanceBased) statFor(id string) *perfStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stats[id]
	if !ok {
		s = &perfStats{}
		p.stats[id] = s
	}
	return s
}

func (p *PerformanceBased) score(px *pool.Proxy) float64 {
	s := p.statFor(px.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	successRate := 1.0
	if s.total > 0 {
		successRate = float64(s.successes) / float64(s.total)
	}
	normalizedLatency := s.latencyEWMAMs / p.cfg.LatencyCeilMs
	if normalizedLatency > 1 {
		normalizedLatency = 1
	}
	pressure := float64(s.consecFailures) / float64(p.cfg.FailureWindow)
	if pressure > 1 {
		pressure = 1
	}

	return p.cfg.Alpha*successRate - p.cfg.Beta*normalizedLatency - p.cfg.Gamma*pressure
}

func (p *PerformanceBased) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	var best *pool.Proxy
	var bestScore float64

	for _, px := range view {
		if !notFailed(ctx, px.ID) {
			continue
		}
		sc := p.score(px)
		if best == nil || sc > bestScore {
			best, bestScore = px, sc
		}
	}
	if best == nil {
		return nil, ErrNoProxiesAvailable
	}
	return best, nil
}

func (p *PerformanceBased) RecordResult(px *pool.Proxy, outcome pool.Outcome) {
	if px == nil {
		return
	}
	s := p.statFor(px.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if outcome.OK {
		s.successes++
		s.consecFailures = 0
		if s.latencyEWMAMs == 0 {
			s.latencyEWMAMs = outcome.LatencyMs
		} else {
			s.latencyEWMAMs = ewmaAlphaPerf*outcome.LatencyMs + (1-ewmaAlphaPerf)*s.latencyEWMAMs
		}
	} else {
		s.consecFailures++
	}
}

const ewmaAlphaPerf = 0.2
