package aggregator

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"homebase42/internal/ha"
)

// EntityMeta is the registry metadata the scans consult
type EntityMeta struct {
	Hidden              bool
	Disabled            bool
	DeviceClass         string
	OriginalDeviceClass string
}

// RegistryLookup resolves registry metadata by entity ID. A missing entry
// means not hidden, not disabled and no device class.
type RegistryLookup interface {
	Lookup(entityID string) (EntityMeta, bool)
}

// MapRegistry is a static RegistryLookup
type MapRegistry map[string]EntityMeta

// Lookup implements RegistryLookup
func (m MapRegistry) Lookup(entityID string) (EntityMeta, bool) {
	meta, ok := m[entityID]
	return meta, ok
}

// MetaFromEntry converts an entity registry row
func MetaFromEntry(entry *ha.EntityRegistryEntry) EntityMeta {
	meta := EntityMeta{
		Hidden:   entry.IsHidden(),
		Disabled: entry.IsDisabled(),
	}
	if entry.DeviceClass != nil {
		meta.DeviceClass = *entry.DeviceClass
	}
	if entry.OriginalDeviceClass != nil {
		meta.OriginalDeviceClass = *entry.OriginalDeviceClass
	}
	return meta
}

// EntityRegistrySource lists the entity registry
type EntityRegistrySource interface {
	GetEntityRegistry() ([]*ha.EntityRegistryEntry, error)
}

// CachedRegistry is a RegistryLookup backed by Home Assistant's entity
// registry. It refetches only after MarkStale, which callers wire to
// entity_registry_updated events and to reconnects.
type CachedRegistry struct {
	source  EntityRegistrySource
	logger  *zap.Logger
	mu      sync.RWMutex
	entries map[string]EntityMeta
	stale   bool
	// generation counts MarkStale calls; a refresh only clears stale if
	// none arrived while it was fetching
	generation uint64
}

// NewCachedRegistry creates an empty registry that loads on first refresh
func NewCachedRegistry(source EntityRegistrySource, logger *zap.Logger) *CachedRegistry {
	return &CachedRegistry{
		source:  source,
		logger:  logger.Named("registry"),
		entries: make(map[string]EntityMeta),
		stale:   true,
	}
}

// Lookup implements RegistryLookup
func (r *CachedRegistry) Lookup(entityID string) (EntityMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[entityID]
	return meta, ok
}

// Len returns the number of cached entries
func (r *CachedRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MarkStale schedules a refetch on the next RefreshIfStale
func (r *CachedRegistry) MarkStale() {
	r.mu.Lock()
	r.stale = true
	r.generation++
	r.mu.Unlock()
}

// IsStale reports whether a refetch is pending
func (r *CachedRegistry) IsStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// Refresh refetches the registry. On failure the previous entries stay in
// place and the cache remains stale. If MarkStale is called while the fetch
// is in flight the new entries are kept but the cache stays stale, so the
// next RefreshIfStale fetches again.
func (r *CachedRegistry) Refresh() error {
	r.mu.RLock()
	startGen := r.generation
	r.mu.RUnlock()

	entries, err := r.source.GetEntityRegistry()
	if err != nil {
		r.mu.Lock()
		r.stale = true
		r.mu.Unlock()
		return fmt.Errorf("failed to fetch entity registry: %w", err)
	}

	next := make(map[string]EntityMeta, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.EntityID == "" {
			continue
		}
		next[entry.EntityID] = MetaFromEntry(entry)
	}

	r.mu.Lock()
	r.entries = next
	superseded := r.generation != startGen
	r.stale = superseded
	r.mu.Unlock()

	if superseded {
		r.logger.Debug("Entity registry changed during refresh, staying stale", zap.Int("entries", len(next)))
		return nil
	}
	r.logger.Debug("Entity registry refreshed", zap.Int("entries", len(next)))
	return nil
}

// RefreshIfStale refetches only when marked stale
func (r *CachedRegistry) RefreshIfStale() error {
	if !r.IsStale() {
		return nil
	}
	return r.Refresh()
}
