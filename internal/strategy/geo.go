package strategy

import (
	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// GeoConfig tunes GeoTargeted (spec §4.2.7).
type GeoConfig struct {
	// Secondary is delegated to on the filtered view. Defaults to
	// round-robin.
	Secondary Strategy
	// FallbackToFullView controls behavior when the filtered set is
	// empty: true (default) falls back to the full view; false fails with
	// ErrNoProxiesAvailable. This resolves the spec's Open Question about
	// geo fallback when both target_country and target_region are unset —
	// that case applies no filter at all (see DESIGN.md).
	FallbackToFullView bool
}

func DefaultGeoConfig() GeoConfig {
	return GeoConfig{Secondary: NewRoundRobin(), FallbackToFullView: true}
}

// NewGeoTargetedFromMap builds a GeoTargeted strategy from a registry
// config map, resolving a named secondary strategy via the default
// registry when given.
func NewGeoTargetedFromMap(cfg map[string]any) (*GeoTargeted, error) {
	c := DefaultGeoConfig()
	if name, ok := cfg["secondary"].(string); ok && name != "" {
		secondary, err := Default().Get(name, nil)
		if err != nil {
			return nil, err
		}
		c.Secondary = secondary
	}
	if v, ok := cfg["fallback_to_full_view"].(bool); ok {
		c.FallbackToFullView = v
	}
	return NewGeoTargeted(c), nil
}

// GeoTargeted filters proxies by target_country (taking precedence) or
// target_region, then delegates selection to a secondary strategy. It also
// implements Filter so CompositeStrategy can reuse its predicate logic
// directly.
type GeoTargeted struct {
	cfg GeoConfig
}

func NewGeoTargeted(cfg GeoConfig) *GeoTargeted {
	if cfg.Secondary == nil {
		cfg.Secondary = NewRoundRobin()
	}
	return &GeoTargeted{cfg: cfg}
}

// Apply implements Filter: if neither target_country nor target_region is
// set, no filter is applied (spec §9 Open Question), matching the source's
// default.
func (g *GeoTargeted) Apply(view []*pool.Proxy, ctx SelectionContext) []*pool.Proxy {
	if ctx.TargetCountry != "" {
		return matching(view, func(px *pool.Proxy) bool { return px.CountryCode == ctx.TargetCountry })
	}
	if ctx.TargetRegion != "" {
		return matching(view, func(px *pool.Proxy) bool { return px.Region == ctx.TargetRegion })
	}
	return view
}

func matching(view []*pool.Proxy, pred func(*pool.Proxy) bool) []*pool.Proxy {
	out := make([]*pool.Proxy, 0, len(view))
	for _, px := range view {
		if pred(px) {
			out = append(out, px)
		}
	}
	return out
}

func (g *GeoTargeted) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	filtered := g.Apply(view, ctx)
	if len(filtered) == 0 {
		if (ctx.TargetCountry != "" || ctx.TargetRegion != "") && !g.cfg.FallbackToFullView {
			return nil, ErrNoProxiesAvailable
		}
		filtered = view
	}
	return g.cfg.Secondary.Select(filtered, ctx)
}

func (g *GeoTargeted) RecordResult(px *pool.Proxy, outcome pool.Outcome) {
	g.cfg.Secondary.RecordResult(px, outcome)
}
