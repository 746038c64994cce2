package mapper

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"dbrewind/internal/schema"
)

// Cache is the process-wide rule-set cache keyed by version pair. Its
// lifecycle is tied to the registry it wraps; registered versions are
// immutable, so cached entries never go stale. Concurrent requests for the
// same uncached pair compute at most once: losers of the race wait for and
// share the winner's result.
type Cache struct {
	registry *schema.Registry
	mapper   *Mapper

	group singleflight.Group
	mu    sync.RWMutex
	sets  map[string]*VersionRuleSets
}

// NewCache creates a rule-set cache over the given registry and mapper.
func NewCache(registry *schema.Registry, m *Mapper) *Cache {
	return &Cache{
		registry: registry,
		mapper:   m,
		sets:     make(map[string]*VersionRuleSets),
	}
}

// Pair returns the inferred rule sets for one (source, target) version
// pair, computing and caching them on first use.
func (c *Cache) Pair(srcID, dstID string) (*VersionRuleSets, error) {
	key := srcID + "\x00" + dstID

	c.mu.RLock()
	cached, ok := c.sets[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		diff, err := c.registry.Diff(srcID, dstID)
		if err != nil {
			return nil, err
		}
		sets, err := c.mapper.Infer(diff)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sets[key] = sets
		c.mu.Unlock()
		return sets, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*VersionRuleSets), nil
}

// Chain resolves the version path from src to dst and composes the cached
// pairwise rule sets along it into one composite rule set.
func (c *Cache) Chain(srcID, dstID string) (*VersionRuleSets, error) {
	path, err := c.registry.Path(srcID, dstID)
	if err != nil {
		return nil, err
	}

	if len(path) == 1 {
		return c.Pair(srcID, dstID)
	}

	sets := make([]*VersionRuleSets, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		pair, err := c.Pair(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		sets = append(sets, pair)
	}

	return ComposeChain(sets)
}
