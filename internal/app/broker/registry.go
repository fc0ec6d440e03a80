package broker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// Factory constructs an adapter from its configuration block.
type Factory func(ctx context.Context, cfg map[string]any, logger *log.Logger) (Adapter, error)

// Registry maintains adapter factories keyed by broker identifier.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		factories: make(map[string]Factory),
	}
}

// Register registers a factory for the broker identifier.
func (r *Registry) Register(name string, factory Factory) {
	if factory == nil {
		panic("broker factory required")
	}
	r.mu.Lock()
	r.factories[normalizeName(name)] = factory
	r.mu.Unlock()
}

// Registered lists known broker identifiers in sorted order.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Create instantiates the adapter registered under name.
func (r *Registry) Create(ctx context.Context, name string, cfg map[string]any, logger *log.Logger) (Adapter, error) {
	key := normalizeName(name)
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker %q not registered", key)
	}
	adapter, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("instantiate broker %s: %w", key, err)
	}
	return adapter, nil
}

// Build instantiates every enabled broker once and returns the immutable set
// the rest of the router looks adapters up in.
func (r *Registry) Build(ctx context.Context, configs map[string]map[string]any, logger *log.Logger) (*Set, error) {
	set := &Set{adapters: make(map[string]Adapter, len(configs))}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := configs[name]
		driver := name
		// a "driver" key lets one factory serve under another broker's name
		if raw, ok := cfg["driver"].(string); ok && strings.TrimSpace(raw) != "" {
			driver = raw
			cfg = withName(cfg, name)
		}
		adapter, err := r.Create(ctx, driver, cfg, logger)
		if err != nil {
			return nil, err
		}
		set.adapters[normalizeName(name)] = adapter
		set.names = append(set.names, normalizeName(name))
	}
	return set, nil
}

// Set is the startup-built mapping from broker identifier to adapter.
type Set struct {
	adapters map[string]Adapter
	names    []string
}

// NewSet builds a Set directly from adapters, keyed by Name().
func NewSet(adapters ...Adapter) *Set {
	set := &Set{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := normalizeName(adapter.Name())
		if _, dup := set.adapters[name]; !dup {
			set.names = append(set.names, name)
		}
		set.adapters[name] = adapter
	}
	sort.Strings(set.names)
	return set
}

// Get returns the adapter for broker.
func (s *Set) Get(broker string) (Adapter, bool) {
	if s == nil {
		return nil, false
	}
	adapter, ok := s.adapters[normalizeName(broker)]
	return adapter, ok
}

// Names lists the configured brokers in sorted order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func withName(cfg map[string]any, name string) map[string]any {
	out := make(map[string]any, len(cfg)+1)
	for k, v := range cfg {
		out[k] = v
	}
	out["name"] = normalizeName(name)
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
