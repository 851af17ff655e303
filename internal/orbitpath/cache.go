package orbitpath

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/tle"
)

// Cache memoizes the most recently sampled path per catalog number. A
// cached path is valid only for the exact start it was sampled at; a
// request with a different start resamples and replaces the entry, so the
// cache never grows past one path per object. The whole cache is dropped
// when the element dataset changes. Objects whose sampling failed are
// remembered as pathless so repeated requests don't re-propagate a decayed
// orbit every time.
type Cache struct {
	mu      sync.Mutex
	entries map[int]*entry
	builtAt time.Time // FetchedAt of the dataset the entries came from

	cfg    Config
	logger *slog.Logger
}

type entry struct {
	start time.Time
	path  *Path // nil means sampling failed; the object has no path
}

// NewCache creates a path cache with the given sampling configuration.
func NewCache(cfg Config, logger *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[int]*entry),
		cfg:     cfg.normalized(),
		logger:  logger,
	}
}

// Get returns the path for rec starting at start, sampling on first
// request. A cached path is returned only when its start matches; any
// other start resamples. datasetAt is the FetchedAt of the dataset rec
// came from; a change invalidates every cached path. Returns ErrNoPath
// (possibly wrapped) for pathless objects.
func (c *Cache) Get(rec *tle.Record, datasetAt time.Time, start time.Time) (*Path, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !datasetAt.Equal(c.builtAt) {
		if len(c.entries) > 0 {
			c.logger.Info("element dataset changed, dropping cached paths", "dropped", len(c.entries))
		}
		c.entries = make(map[int]*entry)
		c.builtAt = datasetAt
	}

	if e, ok := c.entries[rec.NoradID]; ok {
		// A pathless marker holds for any start: a propagation that blows
		// up now does not recover at a nearby start within one dataset.
		if e.path == nil {
			metrics.IncPathCacheHits()
			return nil, ErrNoPath
		}
		if e.start.Equal(start) {
			metrics.IncPathCacheHits()
			return e.path, nil
		}
	}
	metrics.IncPathCacheMisses()

	path, err := Sample(rec, start, c.cfg)
	if err != nil {
		if errors.Is(err, ErrNoPath) {
			// Remember the failure so the object stays pathless until the
			// next dataset load.
			c.entries[rec.NoradID] = &entry{start: start}
			c.logger.Warn("orbit path sampling failed", "norad_id", rec.NoradID, "error", err)
		}
		return nil, err
	}

	c.entries[rec.NoradID] = &entry{start: start, path: path}
	return path, nil
}

// Len returns the number of cached entries, pathless markers included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
