// Package tracker runs the live position loop. One goroutine ticks at a
// fixed interval, propagates every catalog object through the worker
// pool, derives visibility against the configured observer, and
// publishes an immutable snapshot. Readers always see a complete tick,
// never a partial one.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/transform"
	"github.com/orbitwatch/orbitwatch/internal/visibility"
)

// ErrObserverSet is returned when a second observer location is supplied.
// The observer is fixed for the lifetime of the process.
var ErrObserverSet = errors.New("observer already configured")

// Object is one satellite's state within a snapshot.
type Object struct {
	NoradID int     `json:"norad_id"`
	Name    string  `json:"name"`
	LatDeg  float64 `json:"lat_deg"`
	LonDeg  float64 `json:"lon_deg"`
	AltM    float64 `json:"alt_m"`

	// Visibility fields are populated only when an observer is set.
	Visible         bool    `json:"visible,omitempty"`
	CoverageRadiusM float64 `json:"coverage_radius_m,omitempty"`
	AzimuthDeg      float64 `json:"azimuth_deg,omitempty"`
	ElevationDeg    float64 `json:"elevation_deg,omitempty"`
	RangeKm         float64 `json:"range_km,omitempty"`
}

// Snapshot is the result of one complete tick. It is immutable once
// published.
type Snapshot struct {
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	HasObserver bool      `json:"has_observer"`
	Visible     int       `json:"visible_count"`
	Retired     int       `json:"retired_count"`
	Objects     []Object  `json:"objects"`

	datasetAt time.Time
}

// DatasetFetchedAt reports which element dataset produced the snapshot.
func (s *Snapshot) DatasetFetchedAt() time.Time { return s.datasetAt }

// Broadcaster receives each published snapshot. The ws hub satisfies it.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Tracker owns the tick loop.
type Tracker struct {
	store    *tle.Store
	pool     *propagation.WorkerPool
	interval time.Duration
	bcast    Broadcaster
	logger   *slog.Logger

	snapshot atomic.Pointer[Snapshot]

	mu       sync.Mutex
	observer *transform.Observer
	retired  map[int]struct{}
	// retiredFor is the dataset the retired set belongs to. A fresh
	// dataset gets a clean slate since its elements may be usable again.
	retiredFor time.Time
}

// New creates a tracker. bcast may be nil when no stream consumers exist,
// as in the diagnostic tool.
func New(store *tle.Store, pool *propagation.WorkerPool, interval time.Duration, bcast Broadcaster, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		store:    store,
		pool:     pool,
		interval: interval,
		bcast:    bcast,
		logger:   logger,
		retired:  make(map[int]struct{}),
	}
}

// SetObserver fixes the ground observer location. Only the first call
// succeeds; later calls return ErrObserverSet.
func (t *Tracker) SetObserver(latDeg, lonDeg, altM float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.observer != nil {
		return ErrObserverSet
	}
	obs := transform.NewObserver(latDeg, lonDeg, altM)
	t.observer = &obs
	t.logger.Info("observer configured", "lat_deg", latDeg, "lon_deg", lonDeg, "alt_m", altM)
	return nil
}

// Observer returns the configured observer, if any.
func (t *Tracker) Observer() (transform.Observer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.observer == nil {
		return transform.Observer{}, false
	}
	return *t.observer, true
}

// Snapshot returns the most recently published snapshot, or nil before
// the first tick completes.
func (t *Tracker) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// Run ticks until ctx is cancelled. It blocks waiting for an element
// dataset before the first tick.
func (t *Tracker) Run(ctx context.Context) {
	if !t.waitForElements(ctx) {
		return
	}

	t.Tick(ctx, time.Now().UTC())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return
		case now := <-ticker.C:
			t.Tick(ctx, now.UTC())
		}
	}
}

// waitForElements blocks until the store holds a dataset, checking every
// second. Returns false if ctx is cancelled first.
func (t *Tracker) waitForElements(ctx context.Context) bool {
	if t.store.Get() != nil {
		return true
	}

	t.logger.Info("tracker waiting for element data")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if t.store.Get() != nil {
				return true
			}
		}
	}
}

// Tick runs one full propagation pass and publishes the snapshot.
// Exported so the diagnostic tool can drive it without the loop.
func (t *Tracker) Tick(ctx context.Context, now time.Time) {
	ds := t.store.Get()
	if ds == nil {
		return
	}

	start := time.Now()

	targets := t.buildTargets(ds)
	states, failures := t.pool.PropagateBatch(ctx, targets, now)
	t.recordFailures(ds, failures)

	obs, hasObs := t.Observer()

	objects := make([]Object, 0, len(states))
	visibleCount := 0
	for _, st := range states {
		rec, ok := ds.Set.ByNorad(st.NoradID)
		if !ok {
			continue
		}
		obj := Object{
			NoradID: st.NoradID,
			Name:    rec.Name,
			LatDeg:  st.Geodetic.LatDeg,
			LonDeg:  st.Geodetic.LonDeg,
			AltM:    st.Geodetic.AltM,
		}
		if hasObs {
			status := visibility.Compute(obs, st.Geodetic)
			obj.Visible = status.Visible
			obj.CoverageRadiusM = status.CoverageRadiusM
			if status.Visible {
				visibleCount++
				look := transform.LookAnglesTo(obs, st.ECEF.X, st.ECEF.Y, st.ECEF.Z)
				obj.AzimuthDeg = look.AzimuthDeg
				obj.ElevationDeg = look.ElevationDeg
				obj.RangeKm = look.RangeKm
			}
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].NoradID < objects[j].NoradID })

	t.mu.Lock()
	retired := len(t.retired)
	t.mu.Unlock()

	snap := &Snapshot{
		Type:        "snapshot",
		Time:        now,
		HasObserver: hasObs,
		Visible:     visibleCount,
		Retired:     retired,
		Objects:     objects,
		datasetAt:   ds.FetchedAt,
	}
	t.snapshot.Store(snap)

	elapsed := time.Since(start)
	metrics.ObserveTickDuration(elapsed)
	metrics.SetVisibleObjects(visibleCount)
	metrics.SetRetiredObjects(retired)

	if t.bcast != nil {
		t.bcast.BroadcastJSON(snap)
	}

	if elapsed > t.interval {
		t.logger.Warn("tick overran interval",
			"duration_ms", elapsed.Milliseconds(),
			"objects", len(objects),
		)
	}
}

// buildTargets collects propagation targets for the dataset, skipping
// objects retired under this dataset. A new dataset clears the retired
// set.
func (t *Tracker) buildTargets(ds *tle.Dataset) []propagation.Target {
	t.mu.Lock()
	if !ds.FetchedAt.Equal(t.retiredFor) {
		if len(t.retired) > 0 {
			t.logger.Info("element dataset changed, clearing retired set", "retired", len(t.retired))
		}
		t.retired = make(map[int]struct{})
		t.retiredFor = ds.FetchedAt
	}
	retired := t.retired
	t.mu.Unlock()

	targets := make([]propagation.Target, 0, ds.Set.Len())
	for _, rec := range ds.Set.Records {
		if _, gone := retired[rec.NoradID]; gone {
			continue
		}
		targets = append(targets, propagation.Target{NoradID: rec.NoradID, Prop: rec.Propagator()})
	}
	return targets
}

// recordFailures retires decayed objects so later ticks skip them, and
// counts every failure.
func (t *Tracker) recordFailures(ds *tle.Dataset, failures []propagation.Failure) {
	if len(failures) == 0 {
		return
	}
	metrics.AddPropagationFailures(len(failures))

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range failures {
		if !errors.Is(f.Err, propagation.ErrDecayed) {
			continue
		}
		if _, already := t.retired[f.NoradID]; already {
			continue
		}
		t.retired[f.NoradID] = struct{}{}
		name := ""
		if rec, ok := ds.Set.ByNorad(f.NoradID); ok {
			name = rec.Name
		}
		t.logger.Info("object retired", "norad_id", f.NoradID, "name", name, "error", f.Err)
	}
}
