package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a strategy from a bot's parameters.
type Constructor func(p Params, d Deps) Strategy

// Registry maps strategy type tags to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry knows the five built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeTrendMA200, func(p Params, d Deps) Strategy { return NewTrendMA200(p, d) })
	r.Register(TypeRSITrend, func(p Params, d Deps) Strategy { return NewRSITrend(p, d) })
	r.Register(TypeBollADX, func(p Params, d Deps) Strategy { return NewBollADX(p, d) })
	r.Register(TypeAdaptiveGrid, func(p Params, d Deps) Strategy { return NewAdaptiveGrid(p, d) })
	r.Register(TypeBreakoutLite, func(p Params, d Deps) Strategy { return NewBreakoutLite(p, d) })
	return r
}

func (r *Registry) Register(tag string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[tag] = c
}

// Build resolves tag to a strategy instance.
func (r *Registry) Build(tag string, p Params, d Deps) (Strategy, error) {
	r.mu.RLock()
	c, ok := r.ctors[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", tag)
	}
	if p == nil {
		p = Params{}
	}
	return c(p, d), nil
}

// Types lists registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
