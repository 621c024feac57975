package langreg

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// EvictionWeights weights the three factors that make up a plugin's
// eviction score: w1·priority + w2·recency + w3·hit_rate.
type EvictionWeights struct {
	Priority float64
	Recency  float64
	HitRate  float64
}

// DefaultEvictionWeights favors keeping high-priority languages resident
// while still responding to genuine recency/frequency signal.
func DefaultEvictionWeights() EvictionWeights {
	return EvictionWeights{Priority: 0.5, Recency: 0.3, HitRate: 0.2}
}

const defaultLoadTimeout = 5 * time.Second

type cacheEntry struct {
	languageID string
	plugin     Plugin
	lastUsed   time.Time
	hitCount   int64
	estBytes   int64
	priority   int
}

type registeredFactory struct {
	build    Factory
	priority int
}

// PluginCache is the memory-bounded LRU of constructed Plugin instances.
// Reads (Get on a hit) take a recency bump; construction and eviction are
// serialized by a short lock, and concurrent misses for the same language
// collapse into one construction via singleflight.
type PluginCache struct {
	mu          sync.Mutex
	factories   map[string]*registeredFactory
	entries     *lru.Cache[string, *cacheEntry] // sized large; eviction is by byte budget, not count
	usedBytes   int64
	maxBytes    int64
	loadTimeout time.Duration
	weights     EvictionWeights
	group       singleflight.Group
}

// NewPluginCache creates a cache bounded by maxMemoryBytes. A non-positive
// maxMemoryBytes disables the byte ceiling (entries are never evicted by
// size, only ever replaced).
func NewPluginCache(maxMemoryBytes int64) *PluginCache {
	// The underlying lru.Cache needs a nonzero capacity; since eviction is
	// driven by byte budget rather than entry count, give it enough slack
	// that count-based eviction never fires ahead of the budget check.
	entries, _ := lru.New[string, *cacheEntry](4096)
	return &PluginCache{
		factories:   make(map[string]*registeredFactory),
		entries:     entries,
		maxBytes:    maxMemoryBytes,
		loadTimeout: defaultLoadTimeout,
		weights:     DefaultEvictionWeights(),
	}
}

// RegisterFactory associates a language id with the Factory used to build
// its Plugin instance on a cache miss. priority biases eviction (spec
// §4.J: "common languages pinned").
func (c *PluginCache) RegisterFactory(languageID string, factory Factory, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[languageID] = &registeredFactory{build: factory, priority: priority}
}

// Get returns the cached Plugin for languageID, constructing one within
// the load timeout on a miss and evicting lower-scored entries if the
// construction pushes the cache over its memory budget.
func (c *PluginCache) Get(ctx context.Context, lang *Language) (Plugin, error) {
	c.mu.Lock()
	if entry, ok := c.entries.Get(lang.ID); ok {
		entry.lastUsed = time.Now()
		entry.hitCount++
		c.mu.Unlock()
		return entry.plugin, nil
	}
	rf, ok := c.factories[lang.ID]
	c.mu.Unlock()
	if !ok {
		return nil, clerrors.New(clerrors.PluginLoadFailed, "no plugin factory registered").WithData("language", lang.ID)
	}

	result, err, _ := c.group.Do(lang.ID, func() (any, error) {
		return c.construct(ctx, lang, rf)
	})
	if err != nil {
		return nil, err
	}
	return result.(Plugin), nil
}

func (c *PluginCache) construct(ctx context.Context, lang *Language, rf *registeredFactory) (Plugin, error) {
	// Another goroutine may have populated the entry while this one waited
	// on the singleflight group for an unrelated prior miss.
	c.mu.Lock()
	if entry, ok := c.entries.Get(lang.ID); ok {
		entry.lastUsed = time.Now()
		entry.hitCount++
		c.mu.Unlock()
		return entry.plugin, nil
	}
	c.mu.Unlock()

	buildCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	type buildResult struct {
		plugin Plugin
		err    error
	}
	done := make(chan buildResult, 1)
	go func() {
		p, err := rf.build(lang)
		done <- buildResult{p, err}
	}()

	select {
	case <-buildCtx.Done():
		return nil, clerrors.New(clerrors.PluginLoadTimeout, "plugin construction exceeded load timeout").WithData("language", lang.ID)
	case r := <-done:
		if r.err != nil {
			return nil, clerrors.Wrap(clerrors.PluginLoadFailed, "construct plugin", r.err).WithData("language", lang.ID)
		}
		c.insert(lang.ID, r.plugin, rf.priority)
		return r.plugin, nil
	}
}

func (c *PluginCache) insert(languageID string, plugin Plugin, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		languageID: languageID,
		plugin:     plugin,
		lastUsed:   time.Now(),
		hitCount:   1,
		estBytes:   plugin.EstimatedBytes(),
		priority:   priority,
	}
	c.entries.Add(languageID, entry)
	c.usedBytes += entry.estBytes

	if c.maxBytes <= 0 {
		return
	}
	c.evictUntilWithinBudget(languageID)
}

// evictUntilWithinBudget removes the lowest-scored entries (excluding
// keep, the entry that just triggered the check) until usedBytes fits the
// configured ceiling or no further candidates remain. Must be called with
// c.mu held.
func (c *PluginCache) evictUntilWithinBudget(keep string) {
	for c.usedBytes > c.maxBytes {
		victim := c.lowestScoredLocked(keep)
		if victim == "" {
			return // nothing left to evict; budget is simply exceeded
		}
		entry, ok := c.entries.Peek(victim)
		if !ok {
			return
		}
		c.entries.Remove(victim)
		c.usedBytes -= entry.estBytes
	}
}

func (c *PluginCache) lowestScoredLocked(exclude string) string {
	now := time.Now()
	var worstKey string
	var worstScore float64
	first := true

	for _, key := range c.entries.Keys() {
		if key == exclude {
			continue
		}
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		score := c.score(entry, now)
		if first || score < worstScore {
			worstScore = score
			worstKey = key
			first = false
		}
	}
	return worstKey
}

// score combines priority, recency and hit-rate into a single value; lower
// is more evictable. Recency and hit-rate are normalized against
// generous fixed scales so one runaway hot entry can't make every other
// entry look equally cold.
func (c *PluginCache) score(entry *cacheEntry, now time.Time) float64 {
	priorityNorm := float64(entry.priority) / 10.0
	ageSeconds := now.Sub(entry.lastUsed).Seconds()
	recencyNorm := 1.0 / (1.0 + ageSeconds/60.0)
	hitRateNorm := float64(entry.hitCount) / (float64(entry.hitCount) + 10.0)

	return c.weights.Priority*priorityNorm + c.weights.Recency*recencyNorm + c.weights.HitRate*hitRateNorm
}

// Stats reports current cache occupancy, for diagnostics and preload
// decisions.
type Stats struct {
	ResidentLanguages int
	UsedBytes         int64
	MaxBytes          int64
}

func (c *PluginCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ResidentLanguages: c.entries.Len(),
		UsedBytes:         c.usedBytes,
		MaxBytes:          c.maxBytes,
	}
}

// Evict drops a specific language's cached plugin, if present.
func (c *PluginCache) Evict(languageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Peek(languageID)
	if !ok {
		return
	}
	c.entries.Remove(languageID)
	c.usedBytes -= entry.estBytes
}

// Purge drops every cached plugin instance.
func (c *PluginCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.usedBytes = 0
}
