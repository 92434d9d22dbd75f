// Package vectorstore provides the chunk index registry and drivers.
// Ships: embedded (in-memory brute force), pgvector (user-provided PG).
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/pkg/contracts"
)

// Registry holds named chunk indexes. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.ChunkIndex
}

// NewRegistry creates an empty index registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]contracts.ChunkIndex),
	}
}

// Register adds an index under the given name. Overwrites if exists.
func (r *Registry) Register(name string, driver contracts.ChunkIndex) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", driver.Kind()).Msg("Chunk index registered")
}

// Get returns the index by name, or error if not found.
func (r *Registry) Get(name string) (contracts.ChunkIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("chunk index not found: %s", name)
	}
	return d, nil
}

// List returns all registered index names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll pings every registered index and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]contracts.ChunkIndex, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, driver := range snapshot {
		results[name] = driver.HealthCheck(ctx)
	}
	return results
}

// Open builds the index named by kind. pgvector needs url and dims.
func Open(ctx context.Context, kind, url string, dims int) (contracts.ChunkIndex, error) {
	switch kind {
	case "", "embedded", "memory":
		return NewEmbeddedStore(), nil
	case "pgvector":
		if url == "" {
			return nil, fmt.Errorf("pgvector index: connection url required")
		}
		return NewPgvectorStore(ctx, url, dims)
	default:
		return nil, fmt.Errorf("unknown chunk index %q", kind)
	}
}
