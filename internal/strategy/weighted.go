package strategy

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// WeightedConfig tunes the weighting function of spec §4.2.3. Tau and
// Epsilon are left as explicit tunables per the spec's Open Questions
// (no canonical defaults are established in the source); see DESIGN.md for
// the defaults chosen here.
type WeightedConfig struct {
	// Tau is the latency time constant (milliseconds) in e^(-latency/tau).
	Tau float64
	// Epsilon is the minimum weight floor, keeping every proxy reachable.
	Epsilon float64
	Seed    int64
}

// DefaultWeightedConfig returns the defaults documented in DESIGN.md.
func DefaultWeightedConfig() WeightedConfig {
	return WeightedConfig{Tau: 500, Epsilon: 0.01}
}

// WeightedConfigFromMap builds a WeightedConfig from a loosely-typed
// registry config map, falling back to defaults for missing keys.
func WeightedConfigFromMap(cfg map[string]any) WeightedConfig {
	c := DefaultWeightedConfig()
	if v, ok := cfg["tau"].(float64); ok && v > 0 {
		c.Tau = v
	}
	if v, ok := cfg["epsilon"].(float64); ok && v > 0 {
		c.Epsilon = v
	}
	if v, ok := cfg["seed"].(int64); ok {
		c.Seed = v
	}
	return c
}

// Weighted draws proxies with probability proportional to
// clamp(success_rate * e^(-latency_ewma/tau), epsilon, 1) (spec §4.2.3).
type Weighted struct {
	cfg WeightedConfig
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewWeighted(cfg WeightedConfig) *Weighted {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Weighted{cfg: cfg, rnd: rand.New(rand.NewSource(seed))}
}

func (w *Weighted) weight(px *pool.Proxy) float64 {
	v := px.SuccessRate() * math.Exp(-px.LatencyEWMAMs()/w.cfg.Tau)
	if v < w.cfg.Epsilon {
		v = w.cfg.Epsilon
	}
	if v > 1 {
		v = 1
	}
	return v
}

func (w *Weighted) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	eligible := filterFailed(view, ctx)
	if len(eligible) == 0 {
		return nil, ErrNoProxiesAvailable
	}

	weights := make([]float64, len(eligible))
	var total float64
	for i, px := range eligible {
		weights[i] = w.weight(px)
		total += weights[i]
	}
	if total <= 0 {
		return eligible[0], nil
	}

	w.mu.Lock()
	r := w.rnd.Float64() * total
	w.mu.Unlock()

	var cum float64
	for i, wt := range weights {
		cum += wt
		if r <= cum {
			return eligible[i], nil
		}
	}
	return eligible[len(eligible)-1], nil
}

func (w *Weighted) RecordResult(*pool.Proxy, pool.Outcome) {}
