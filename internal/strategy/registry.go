package strategy

import (
	"sync"

	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

// Canonical built-in strategy names (spec §4.2.9).
const (
	NameRoundRobin      = "round-robin"
	NameRandom          = "random"
	NameWeighted        = "weighted"
	NameLeastUsed       = "least-used"
	NamePerformance     = "performance-based"
	NameSession         = "session"
	NameGeoTargeted     = "geo-targeted"
)

// Factory constructs a Strategy from an opaque configuration map.
type Factory func(cfg map[string]any) (Strategy, error)

// Registry is the process-wide name -> factory map (C5). Lookup and
// registration are safe under concurrent use: Register writes the map in
// place under mu's write lock, and lookups take mu's read lock. Lookups are
// not lock-free; they wait while a registration holds the write lock.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, thread-safely initialized
// exactly once with the built-in strategies pre-registered.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = newRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func newRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get constructs a strategy by name, failing with INVALID_STRATEGY if name
// is unregistered or construction fails.
func (r *Registry) Get(name string, cfg map[string]any) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, proxyerr.New(proxyerr.CodeInvalidStrategy, "unknown strategy: "+name)
	}
	s, err := f(cfg)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.CodeInvalidStrategy, "failed to construct strategy: "+name, err)
	}
	return s, nil
}

// List returns the currently registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

func registerBuiltins(r *Registry) {
	r.Register(NameRoundRobin, func(map[string]any) (Strategy, error) {
		return NewRoundRobin(), nil
	})
	r.Register(NameRandom, func(map[string]any) (Strategy, error) {
		return NewRandom(0), nil
	})
	r.Register(NameWeighted, func(cfg map[string]any) (Strategy, error) {
		return NewWeighted(WeightedConfigFromMap(cfg)), nil
	})
	r.Register(NameLeastUsed, func(map[string]any) (Strategy, error) {
		return NewLeastUsed(), nil
	})
	r.Register(NamePerformance, func(cfg map[string]any) (Strategy, error) {
		return NewPerformanceBased(PerformanceConfigFromMap(cfg)), nil
	})
	r.Register(NameSession, func(cfg map[string]any) (Strategy, error) {
		return NewSessionPersistence(SessionConfigFromMap(cfg))
	})
	r.Register(NameGeoTargeted, func(cfg map[string]any) (Strategy, error) {
		return NewGeoTargetedFromMap(cfg)
	})
}
