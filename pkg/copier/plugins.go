package copier

import (
	"fmt"
	"sync"
)

// EnrichmentPlugin transforms one source object's payload during copy or
// merge. Plugins run in the order the task message names them.
type EnrichmentPlugin func(data []byte) ([]byte, error)

// Registry maps plugin names to implementations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]EnrichmentPlugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]EnrichmentPlugin)}
}

// Register adds or replaces a plugin under name.
func (r *Registry) Register(name string, plugin EnrichmentPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = plugin
}

// Resolve returns the named plugins in order. An unknown name is a hard
// error: silently skipping an enrichment would corrupt the destination data.
func (r *Registry) Resolve(names []string) ([]EnrichmentPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make([]EnrichmentPlugin, 0, len(names))
	for _, name := range names {
		plugin, ok := r.plugins[name]
		if !ok {
			return nil, fmt.Errorf("unknown enrichment plugin %q", name)
		}
		resolved = append(resolved, plugin)
	}
	return resolved, nil
}

func applyPlugins(data []byte, plugins []EnrichmentPlugin) ([]byte, error) {
	var err error
	for _, plugin := range plugins {
		data, err = plugin(data)
		if err != nil {
			return nil, fmt.Errorf("enrichment plugin failed: %w", err)
		}
	}
	return data, nil
}
