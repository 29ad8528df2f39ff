package tool

import (
	"sort"
	"sync"
)

// Registry manages tool registration and lookup. Reads may happen
// concurrently with the agent loop; registration and removal are serialized
// against them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name and returns the previous entry, or nil
// if none was registered.
func (r *Registry) Unregister(name string) Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.tools[name]
	delete(r.tools, name)
	return prev
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools in name order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Definitions returns descriptors for all registered tools in name order,
// for inclusion in the next model request. Stable ordering keeps requests
// deterministic across steps.
func (r *Registry) Definitions() []Definition {
	tools := r.List()
	defs := make([]Definition, len(tools))
	for i, t := range tools {
		defs[i] = Describe(t)
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
