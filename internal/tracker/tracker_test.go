package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/tle"
)

const testElements = `ISS (ZARYA)
1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005
2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09
STARLINK-1007
1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995
2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testStore(t *testing.T, fetchedAt time.Time) *tle.Store {
	t.Helper()
	set, err := tle.Parse(strings.NewReader(testElements), testLogger())
	if err != nil {
		t.Fatalf("parse elements: %v", err)
	}
	store := tle.NewStore()
	store.Set(&tle.Dataset{
		Source:     "test",
		FetchedAt:  fetchedAt,
		EpochRange: tle.RangeOf(set),
		Set:        set,
	})
	return store
}

type captureBroadcaster struct {
	mu    sync.Mutex
	snaps []any
}

func (b *captureBroadcaster) BroadcastJSON(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, v)
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snaps)
}

func newTestTracker(t *testing.T, bcast Broadcaster) (*Tracker, *tle.Store) {
	t.Helper()
	store := testStore(t, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
	pool := propagation.NewWorkerPool(2, testLogger())
	return New(store, pool, time.Second, bcast, testLogger()), store
}

func TestTickPublishesSnapshot(t *testing.T) {
	bcast := &captureBroadcaster{}
	tr, _ := newTestTracker(t, bcast)

	if tr.Snapshot() != nil {
		t.Fatal("snapshot should be nil before first tick")
	}

	now := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	tr.Tick(context.Background(), now)

	snap := tr.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot after tick")
	}
	if len(snap.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(snap.Objects))
	}
	if snap.Objects[0].NoradID != 25544 || snap.Objects[1].NoradID != 44713 {
		t.Errorf("objects not sorted by catalog number: %d, %d",
			snap.Objects[0].NoradID, snap.Objects[1].NoradID)
	}
	for _, obj := range snap.Objects {
		if obj.LatDeg < -90 || obj.LatDeg > 90 {
			t.Errorf("norad %d: latitude %.2f out of range", obj.NoradID, obj.LatDeg)
		}
		if obj.AltM < 200_000 || obj.AltM > 2_000_000 {
			t.Errorf("norad %d: altitude %.0f m outside LEO band", obj.NoradID, obj.AltM)
		}
	}
	if snap.HasObserver {
		t.Error("snapshot claims observer before one was set")
	}
	if bcast.count() != 1 {
		t.Errorf("broadcasts = %d, want 1", bcast.count())
	}
}

func TestTickWithObserver(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	if err := tr.SetObserver(0, 0, 0); err != nil {
		t.Fatalf("SetObserver: %v", err)
	}

	tr.Tick(context.Background(), time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC))

	snap := tr.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot after tick")
	}
	if !snap.HasObserver {
		t.Error("snapshot missing observer flag")
	}
	for _, obj := range snap.Objects {
		if obj.CoverageRadiusM <= 0 {
			t.Errorf("norad %d: coverage radius %.0f m, want positive", obj.NoradID, obj.CoverageRadiusM)
		}
		if obj.Visible && obj.RangeKm <= 0 {
			t.Errorf("norad %d: visible with no range", obj.NoradID)
		}
	}
}

func TestSetObserverOnce(t *testing.T) {
	tr, _ := newTestTracker(t, nil)

	if err := tr.SetObserver(51.5, -0.1, 35); err != nil {
		t.Fatalf("first SetObserver: %v", err)
	}
	if err := tr.SetObserver(40.7, -74.0, 10); !errors.Is(err, ErrObserverSet) {
		t.Errorf("second SetObserver = %v, want ErrObserverSet", err)
	}

	obs, ok := tr.Observer()
	if !ok {
		t.Fatal("Observer() reports none configured")
	}
	if lat := obs.LatRad * 180 / 3.141592653589793; lat < 51.4 || lat > 51.6 {
		t.Errorf("observer latitude %.2f, want the first value to stick", lat)
	}
}

func TestRetirementSkipsDecayedObjects(t *testing.T) {
	tr, store := newTestTracker(t, nil)
	ds := store.Get()

	tr.recordFailures(ds, []propagation.Failure{
		{NoradID: 25544, Err: propagation.ErrDecayed},
		{NoradID: 44713, Err: errors.New("transient")},
	})

	targets := tr.buildTargets(ds)
	if len(targets) != 1 {
		t.Fatalf("targets = %d, want 1 (decayed object retired)", len(targets))
	}
	if targets[0].NoradID != 44713 {
		t.Errorf("remaining target = %d, want 44713 (transient failure not retired)", targets[0].NoradID)
	}
}

func TestRetiredSetClearsOnNewDataset(t *testing.T) {
	tr, store := newTestTracker(t, nil)
	ds := store.Get()

	tr.recordFailures(ds, []propagation.Failure{
		{NoradID: 25544, Err: propagation.ErrDecayed},
	})
	if got := len(tr.buildTargets(ds)); got != 1 {
		t.Fatalf("targets = %d, want 1 after retirement", got)
	}

	fresh := testStore(t, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC))
	if got := len(tr.buildTargets(fresh.Get())); got != 2 {
		t.Errorf("targets = %d, want 2 after dataset refresh", got)
	}
}

func TestRunWaitsForElements(t *testing.T) {
	store := tle.NewStore()
	pool := propagation.NewWorkerPool(2, testLogger())
	tr := New(store, pool, 10*time.Millisecond, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if tr.Snapshot() != nil {
		t.Error("snapshot published with no dataset")
	}
}
