package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the named entry rules that sessions can be configured
// with. It is safe for concurrent use.
type Registry struct {
	rules map[string]EntryRule
	mu    sync.RWMutex
}

// NewRegistry returns a Registry holding the built-in entry rules:
// "immediate", "sma" (10/20) and "breakout" (50).
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]EntryRule)}
	r.Register(ImmediateEntry{})
	r.Register(SMACrossEntry{Short: 10, Long: 20})
	r.Register(BreakoutEntry{Lookback: 50})
	return r
}

// Register adds a rule under its own name, replacing any previous rule with
// that name.
func (r *Registry) Register(rule EntryRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Name()] = rule
}

// Get retrieves a rule by name.
func (r *Registry) Get(name string) (EntryRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("entry rule %q: not registered", name)
	}
	return rule, nil
}

// List returns the names of all registered rules in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for n := range r.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
