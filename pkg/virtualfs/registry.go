package virtualfs

import (
	"sync"

	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/store"
)

// Registry shares one FileMap per profile between all of its open
// connections and HTTP requests, so two tabs never overwrite each
// other's blob with a stale copy.
type Registry struct {
	backend store.Backend
	limits  Limits

	mu   sync.Mutex
	open map[string]*registryEntry
}

type registryEntry struct {
	fm   *FileMap
	refs int
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend store.Backend, limits Limits) *Registry {
	return &Registry{
		backend: backend,
		limits:  limits,
		open:    make(map[string]*registryEntry),
	}
}

// Acquire returns the profile's FileMap, loading it on first use.
// Every Acquire must be paired with Release.
func (r *Registry) Acquire(profile string) (*FileMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.open[profile]; ok {
		e.refs++
		return e.fm, nil
	}
	fm, err := Load(r.backend.ForProfile(profile), r.limits)
	if err != nil {
		return nil, err
	}
	r.open[profile] = &registryEntry{fm: fm, refs: 1}
	logger.Debug(logger.AreaFileSystem, "Opened file map for profile %s", profile)
	return fm, nil
}

// Release drops one reference. The map is forgotten when none remain.
func (r *Registry) Release(profile string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[profile]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.open, profile)
		logger.Debug(logger.AreaFileSystem, "Closed file map for profile %s", profile)
	}
}

// OpenCount returns the number of profiles with a loaded map.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Store returns the profile's key-value namespace for settings.
func (r *Registry) Store(profile string) store.Store {
	return r.backend.ForProfile(profile)
}
