package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps extraction provider names and graph backends to their
// constructor functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   map[string]func(ExtractionConfig) (llm.Provider, error)
	graph map[GraphBackend]func(context.Context, GraphConfig) (graph.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(map[string]func(ExtractionConfig) (llm.Provider, error)),
		graph: make(map[GraphBackend]func(context.Context, GraphConfig) (graph.Store, error)),
	}
}

// RegisterLLM registers an extraction backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ExtractionConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterGraph registers a graph store factory for backend.
func (r *Registry) RegisterGraph(backend GraphBackend, factory func(context.Context, GraphConfig) (graph.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph[backend] = factory
}

// LLMNames returns the registered extraction provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm))
}

// CreateLLM instantiates the extraction backend registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(cfg ExtractionConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateGraph opens the graph store registered under cfg.Backend.
func (r *Registry) CreateGraph(ctx context.Context, cfg GraphConfig) (graph.Store, error) {
	r.mu.RLock()
	factory, ok := r.graph[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: graph/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
