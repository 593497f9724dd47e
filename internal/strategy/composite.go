package strategy

import (
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

// CompositeStrategy applies each filter in order, narrowing the view, then
// runs the selector on the final view (spec §4.2.8). It is the only
// strategy that holds references to other strategies, and it owns them
// (spec §9).
type CompositeStrategy struct {
	Filters  []Filter
	Selector Strategy
}

// NewComposite builds a CompositeStrategy from explicit filters/selector.
func NewComposite(filters []Filter, selector Strategy) *CompositeStrategy {
	return &CompositeStrategy{Filters: filters, Selector: selector}
}

// CompositeConfig describes a composite by name, for construction through
// the Strategy Registry (spec §4.2.8 "maps string names via the Strategy
// Registry").
type CompositeConfig struct {
	FilterNames  []string
	SelectorName string
}

// NewCompositeFromConfig resolves each named filter and the selector via
// the default registry. A named strategy participates as a filter only if
// it also implements the Filter interface (GeoTargeted is the canonical
// example); otherwise construction fails with INVALID_STRATEGY.
func NewCompositeFromConfig(cfg CompositeConfig) (*CompositeStrategy, error) {
	reg := Default()

	filters := make([]Filter, 0, len(cfg.FilterNames))
	for _, name := range cfg.FilterNames {
		s, err := reg.Get(name, nil)
		if err != nil {
			return nil, err
		}
		f, ok := s.(Filter)
		if !ok {
			return nil, proxyerr.New(proxyerr.CodeInvalidStrategy, "strategy "+name+" does not implement Filter")
		}
		filters = append(filters, f)
	}

	selector, err := reg.Get(cfg.SelectorName, nil)
	if err != nil {
		return nil, err
	}
	return NewComposite(filters, selector), nil
}

func (c *CompositeStrategy) Select(view []*pool.Proxy, ctx SelectionContext) (*pool.Proxy, error) {
	narrowed := view
	for _, f := range c.Filters {
		narrowed = f.Apply(narrowed, ctx)
		if len(narrowed) == 0 {
			return nil, ErrNoProxiesAvailable
		}
	}
	return c.Selector.Select(narrowed, ctx)
}

func (c *CompositeStrategy) RecordResult(px *pool.Proxy, outcome pool.Outcome) {
	c.Selector.RecordResult(px, outcome)
	for _, f := range c.Filters {
		if s, ok := f.(Strategy); ok {
			s.RecordResult(px, outcome)
		}
	}
}
