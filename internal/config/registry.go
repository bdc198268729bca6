package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/callcoach/internal/records"
	"github.com/MrWong99/callcoach/pkg/provider/generate"
	"github.com/MrWong99/callcoach/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	live      map[string]func(LiveConfig) (live.Transport, error)
	generate  map[string]func(context.Context, ProviderEntry) (generate.Generator, error)
	recordsDB map[Backend]func(context.Context, RecordsConfig) (records.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:      make(map[string]func(LiveConfig) (live.Transport, error)),
		generate:  make(map[string]func(context.Context, ProviderEntry) (generate.Generator, error)),
		recordsDB: make(map[Backend]func(context.Context, RecordsConfig) (records.Store, error)),
	}
}

// RegisterLive registers a live transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(LiveConfig) (live.Transport, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterGenerator registers a generator factory under name.
func (r *Registry) RegisterGenerator(name string, factory func(context.Context, ProviderEntry) (generate.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generate[name] = factory
}

// RegisterStore registers a record store factory for backend.
func (r *Registry) RegisterStore(backend Backend, factory func(context.Context, RecordsConfig) (records.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordsDB[backend] = factory
}

// CreateLive instantiates the live transport named by cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(cfg LiveConfig) (live.Transport, error) {
	r.mu.RLock()
	factory, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateGenerator instantiates a generator using the factory registered under entry.Name.
func (r *Registry) CreateGenerator(ctx context.Context, entry ProviderEntry) (generate.Generator, error) {
	r.mu.RLock()
	factory, ok := r.generate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: generate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// CreateStore opens the record store selected by cfg.Backend.
func (r *Registry) CreateStore(ctx context.Context, cfg RecordsConfig) (records.Store, error) {
	r.mu.RLock()
	factory, ok := r.recordsDB[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: records/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
