package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Module represents a loaded configuration module.
type Module interface {
	// GetName returns the module name (usually the section name).
	GetName() string
}

// ModuleFactory creates a module instance from a config section.
type ModuleFactory func(section *Section) (Module, error)

// Registry maps section names to module factories and loads every
// matching section of a Config in file order.
type Registry struct {
	mu sync.RWMutex

	// exact matches section name exactly (e.g., "tool_x_router")
	exact map[string]ModuleFactory

	// prefixes matches named sections (e.g., "tool_x_endstop " for [tool_x_endstop t0])
	prefixes map[string]ModuleFactory

	loaded map[string]Module
	order  []string
}

// NewRegistry creates a new module registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]ModuleFactory),
		prefixes: make(map[string]ModuleFactory),
		loaded:   make(map[string]Module),
	}
}

// Register adds a factory for an exact section name match.
func (r *Registry) Register(name string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[name] = factory
}

// RegisterWithPrefix adds a factory for sections starting with prefix.
// Example: RegisterWithPrefix("tool_x_endstop ", f) matches [tool_x_endstop t0].
func (r *Registry) RegisterWithPrefix(prefix string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = factory
}

// GetFactory returns the factory for a section name, or nil if not found.
func (r *Registry) GetFactory(sectionName string) ModuleFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getFactoryLocked(sectionName)
}

// getFactoryLocked prefers an exact match, then the longest prefix.
func (r *Registry) getFactoryLocked(sectionName string) ModuleFactory {
	if factory, ok := r.exact[sectionName]; ok {
		return factory
	}
	best := ""
	for prefix := range r.prefixes {
		if strings.HasPrefix(sectionName, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	return r.prefixes[best]
}

// LoadModules loads all modules from the config using registered factories.
// Loading stops at the first factory error.
func (r *Registry) LoadModules(cfg *Config) (map[string]Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	modules := make(map[string]Module)
	for _, section := range cfg.GetSections() {
		name := section.GetName()
		if m, ok := r.loaded[name]; ok {
			modules[name] = m
			continue
		}

		factory := r.getFactoryLocked(name)
		if factory == nil {
			continue
		}
		cfg.MarkAccessed(name)

		module, err := factory(section)
		if err != nil {
			return nil, fmt.Errorf("failed to load module [%s]: %w", name, err)
		}
		modules[name] = module
		r.loaded[name] = module
		r.order = append(r.order, name)
	}
	return modules, nil
}

// GetModule returns a loaded module by name, or nil if not found.
func (r *Registry) GetModule(name string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[name]
}

// LoadedNames returns the names of loaded modules in load order.
func (r *Registry) LoadedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// RegisteredPrefixes returns all registered prefix patterns, sorted.
func (r *Registry) RegisteredPrefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
