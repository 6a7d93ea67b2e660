package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one capability invocation. The returned payload must
// be JSON-serializable; it is fed back into the conversation as a tool
// message.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Capability describes one name-addressable operation the agent can
// perform. Parameters holds a JSON-Schema object describing the
// arguments; it drives both validation and the specs shown to the model.
type Capability struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry maps capability names to their specs. Registration happens
// once at process initialization; lookups afterward are read-only. The
// mutex keeps the interface safe should a caller ever register at
// runtime.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability. The name must be unique.
func (r *Registry) Register(c *Capability) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("capability must have a name")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %q has no handler", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, c.Name)
	}
	r.caps[c.Name] = c
	return nil
}

// MustRegister registers a capability and panics on error. Intended for
// startup wiring where a failure is a programming error.
func (r *Registry) MustRegister(c *Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the capability for name.
func (r *Registry) Lookup(name string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return c, nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs renders OpenAI-function-style specs for the model prompt, in
// name order so the system prompt is stable across runs.
func (r *Registry) Specs() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]map[string]any, 0, len(names))
	for _, name := range names {
		c := r.caps[name]
		specs = append(specs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        c.Name,
				"description": c.Description,
				"parameters":  c.Parameters,
			},
		})
	}
	return specs
}
