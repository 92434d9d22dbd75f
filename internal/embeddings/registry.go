// Package embeddings provides the embedding driver registry and drivers.
// Ships: hashing (offline default), Ollama (nomic-embed-text), OpenAI
// (text-embedding-3-small/large).
package embeddings

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/pkg/contracts"
)

// Registry holds named embedding drivers. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.EmbeddingDriver
}

// NewRegistry creates an empty embedding registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]contracts.EmbeddingDriver),
	}
}

// Register adds a driver under the given name. Overwrites if exists.
func (r *Registry) Register(name string, driver contracts.EmbeddingDriver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", driver.Kind()).Int("dims", driver.Dimensions()).Msg("Embedding driver registered")
}

// Get returns the driver by name, or error if not found.
func (r *Registry) Get(name string) (contracts.EmbeddingDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("embedding driver not found: %s", name)
	}
	return d, nil
}

// List returns all registered driver names, sorted.
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

// HealthCheckAll pings every registered driver and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]contracts.EmbeddingDriver, len(r.drivers))
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

// Settings selects and configures one embedding driver.
type Settings struct {
	Driver    string // hashing | ollama | openai
	Model     string
	Endpoint  string
	APIKey    string
	Dims      int
	BatchSize int
}

// New builds the driver named by s.Driver.
func New(s Settings) (contracts.EmbeddingDriver, error) {
	switch s.Driver {
	case "", "hashing":
		return NewHashingDriver(s.Dims), nil
	case "ollama":
		return NewOllamaDriver(s.Endpoint, s.Model, WithOllamaBatchSize(s.BatchSize)), nil
	case "openai":
		if s.APIKey == "" && s.Endpoint == "" {
			return nil, fmt.Errorf("openai embeddings: api key required")
		}
		return NewOpenAIDriver(s.APIKey, s.Model,
			WithOpenAIEndpoint(s.Endpoint), WithOpenAIBatchSize(s.BatchSize)), nil
	default:
		return nil, fmt.Errorf("unknown embedding driver %q", s.Driver)
	}
}
