package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Provider hands out the current catalog snapshot. Swaps are atomic: a reader
// holding a snapshot keeps using it even while a reload installs a new one.
type Provider struct {
	current atomic.Pointer[Snapshot]
	path    string // empty when serving the embedded catalog
	mu      sync.Mutex
}

// NewProvider creates a provider serving snap. path is the file Reload reads
// from; leave it empty to reload the embedded default.
func NewProvider(snap *Snapshot, path string) *Provider {
	p := &Provider{path: path}
	if snap != nil {
		p.current.Store(snap)
	}
	return p
}

// Snapshot returns the current snapshot or ErrNoSnapshot.
func (p *Provider) Snapshot() (*Snapshot, error) {
	if p == nil {
		return nil, ErrNoSnapshot
	}
	s := p.current.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// Swap installs snap as the current snapshot.
func (p *Provider) Swap(snap *Snapshot) {
	p.current.Store(snap)
}

// Path returns the catalog file the provider reloads from.
func (p *Provider) Path() string { return p.path }

// Reload re-reads the catalog source and swaps it in. On failure the previous
// snapshot stays in place.
func (p *Provider) Reload() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		snap *Snapshot
		err  error
	)
	if p.path == "" {
		snap, err = LoadDefault()
	} else {
		snap, err = LoadFile(p.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reload catalog: %w", err)
	}
	p.Swap(snap)
	log.Info().Str("version", snap.Version).Str("path", p.path).Msg("📚 Catalog reloaded")
	return snap, nil
}

// ── Watcher ─────────────────────────────────────────────────

// Watcher reloads a file-backed provider whenever its file changes.
type Watcher struct {
	provider *Provider
	watcher  *fsnotify.Watcher
	debounce time.Duration
	started  atomic.Bool
	done     chan struct{}
}

// NewWatcher watches the provider's catalog file. The parent directory is
// watched so editors that replace the file by rename are picked up.
func NewWatcher(p *Provider) (*Watcher, error) {
	if p.path == "" {
		return nil, fmt.Errorf("catalog watcher: provider has no file path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(p.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	return &Watcher{
		provider: p,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	target := filepath.Clean(w.provider.path)
	go func() {
		defer close(w.done)
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if _, err := w.provider.Reload(); err != nil {
					log.Warn().Err(err).Msg("Catalog: reload failed, keeping previous snapshot")
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Catalog: watcher error")
			}
		}
	}()
	log.Info().Str("path", w.provider.path).Msg("👀 Catalog watcher started")
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started.Load() {
		<-w.done
	}
	return err
}
