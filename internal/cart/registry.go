package cart

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxManagers = 4096
	defaultIdleTTL     = 30 * time.Minute
)

// Registry hands out one Manager per visitor, keyed by the visitor's id
// cookie. Managers are created lazily with a file-backed snapshot under the
// carts directory and initialized on first access.
//
// The visitor cookie is self-minted, so the map is capped: idle managers are
// evicted before the map can grow past maxManagers. Eviction only drops the
// in-memory manager, the visitor's snapshot file stays and their next request
// rebuilds from it.
type Registry struct {
	api API
	dir string

	maxManagers int
	idleTTL     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	managers map[string]*registryEntry
}

type registryEntry struct {
	manager  *Manager
	lastSeen time.Time
}

func NewRegistry(remote API, dir string) *Registry {
	return &Registry{
		api:         remote,
		dir:         dir,
		maxManagers: defaultMaxManagers,
		idleTTL:     defaultIdleTTL,
		now:         time.Now,
		managers:    make(map[string]*registryEntry),
	}
}

// Manager returns the visitor's cart manager, creating and initializing it
// on first use. The visitor id must be a UUID, anything else is rejected
// before it can reach the filesystem.
func (r *Registry) Manager(ctx context.Context, visitorID string) (*Manager, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, fmt.Errorf("invalid visitor id: %w", err)
	}

	r.mu.Lock()
	entry, ok := r.managers[visitorID]
	if !ok {
		storage, err := NewFileStorage(filepath.Join(r.dir, visitorID+".json"))
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.evictLocked()
		entry = &registryEntry{manager: NewManager(r.api, storage)}
		r.managers[visitorID] = entry
	}
	entry.lastSeen = r.now()
	manager := entry.manager
	r.mu.Unlock()

	// Outside the registry lock, the first call may hit the network.
	manager.Initialize(ctx)

	return manager, nil
}

// evictLocked makes room for one more manager once the cap is reached: idle
// entries are swept first, then the least recently seen until the map fits.
// A request already holding an evicted manager keeps using it safely, its
// state is persisted through the same snapshot file.
func (r *Registry) evictLocked() {
	if len(r.managers) < r.maxManagers {
		return
	}

	cutoff := r.now().Add(-r.idleTTL)
	for id, entry := range r.managers {
		if entry.lastSeen.Before(cutoff) {
			delete(r.managers, id)
		}
	}

	for len(r.managers) >= r.maxManagers {
		var oldestID string
		var oldest time.Time
		for id, entry := range r.managers {
			if oldestID == "" || entry.lastSeen.Before(oldest) {
				oldestID = id
				oldest = entry.lastSeen
			}
		}
		delete(r.managers, oldestID)
	}
}
