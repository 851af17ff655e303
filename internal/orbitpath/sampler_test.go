package orbitpath

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/tle"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const issText = "ISS (ZARYA)\n" +
	"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\n" +
	"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"

func issRecord(t *testing.T) *tle.Record {
	t.Helper()
	set, err := tle.Parse(strings.NewReader(issText), testLogger)
	if err != nil || set.Len() != 1 {
		t.Fatalf("parsing test element set: %v (len=%d)", err, set.Len())
	}
	return set.Records[0]
}

// TestSampleTwoPeriods checks the sampled path covers roughly two orbital
// periods at the requested step, ordered in time.
func TestSampleTwoPeriods(t *testing.T) {
	rec := issRecord(t)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	cfg := Config{Step: 60 * time.Second, Periods: 2}

	path, err := Sample(rec, start, cfg)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(path.Points) == 0 {
		t.Fatal("empty path")
	}

	wantSpan := rec.PeriodMinutes() * 2 * 60 // seconds
	gotSpan := path.Span().Seconds()
	if math.Abs(gotSpan-wantSpan) > cfg.Step.Seconds() {
		t.Errorf("span = %.0fs, want ~%.0fs", gotSpan, wantSpan)
	}

	for i := 1; i < len(path.Points); i++ {
		dt := path.Points[i].Time.Sub(path.Points[i-1].Time)
		if dt <= 0 {
			t.Fatalf("points out of order at %d: dt=%v", i, dt)
		}
		if dt > cfg.Step {
			t.Errorf("gap at %d: %v exceeds step %v", i, dt, cfg.Step)
		}
	}
}

// TestSampleSpanKeepsFractionalMinutes: the span derives from the exact
// orbital period, not a whole-minute rounding of it.
func TestSampleSpanKeepsFractionalMinutes(t *testing.T) {
	rec := issRecord(t)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	cfg := Config{Step: time.Second, Periods: 1}

	path, err := Sample(rec, start, cfg)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	// 1440/15.5 min is 92 min 54.19 s; flooring to whole minutes would
	// come up 54 s short at a 1 s step.
	wantSpan := rec.PeriodMinutes() * 60
	if got := path.Span().Seconds(); got < wantSpan-cfg.Step.Seconds() {
		t.Errorf("span = %.2fs, want at least %.2fs", got, wantSpan-cfg.Step.Seconds())
	}
}

// TestWalkIsRestartable verifies that ranging twice over the same walk
// yields identical points.
func TestWalkIsRestartable(t *testing.T) {
	rec := issRecord(t)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	cfg := Config{Step: 5 * time.Minute, Periods: 1}

	collect := func() []Point {
		var pts []Point
		for pt, err := range Walk(rec, start, cfg) {
			if err != nil {
				t.Fatalf("walk error: %v", err)
			}
			pts = append(pts, pt)
		}
		return pts
	}

	first := collect()
	second := collect()

	if len(first) != len(second) {
		t.Fatalf("restarted walk length %d != %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("point %d differs between walks", i)
		}
	}
}

func TestWalkEarlyStop(t *testing.T) {
	rec := issRecord(t)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

	var n int
	for _, err := range Walk(rec, start, DefaultConfig()) {
		if err != nil {
			t.Fatalf("walk error: %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("early stop yielded %d points, want 3", n)
	}
}

func TestCacheHitAndInvalidation(t *testing.T) {
	rec := issRecord(t)
	cache := NewCache(Config{Step: 5 * time.Minute, Periods: 1}, testLogger)

	ds1 := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

	p1, err := cache.Get(rec, ds1, start)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	p2, err := cache.Get(rec, ds1, start)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if p1 != p2 {
		t.Error("expected cached path pointer on second Get")
	}

	// Dataset change drops the cache.
	ds2 := ds1.Add(time.Hour)
	p3, err := cache.Get(rec, ds2, start)
	if err != nil {
		t.Fatalf("post-invalidation Get failed: %v", err)
	}
	if p3 == p1 {
		t.Error("expected resampled path after dataset change")
	}
	if cache.Len() != 1 {
		t.Errorf("cache len = %d, want 1", cache.Len())
	}
}

// TestCacheResamplesForDifferentStart verifies a cached path is never
// served for a start it was not sampled at.
func TestCacheResamplesForDifferentStart(t *testing.T) {
	rec := issRecord(t)
	cache := NewCache(Config{Step: 5 * time.Minute, Periods: 1}, testLogger)

	ds := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	later := start.Add(6 * time.Hour)

	p1, err := cache.Get(rec, ds, start)
	if err != nil {
		t.Fatalf("Get at start failed: %v", err)
	}

	p2, err := cache.Get(rec, ds, later)
	if err != nil {
		t.Fatalf("Get at later start failed: %v", err)
	}
	if p2 == p1 {
		t.Error("cached path reused for a different start")
	}
	if !p2.Start.Equal(later) {
		t.Errorf("path starts at %v, want requested %v", p2.Start, later)
	}

	// The later path replaced the earlier entry rather than growing the
	// cache, and repeating the later start now hits.
	if cache.Len() != 1 {
		t.Errorf("cache len = %d, want 1", cache.Len())
	}
	p3, err := cache.Get(rec, ds, later)
	if err != nil {
		t.Fatalf("repeat Get failed: %v", err)
	}
	if p3 != p2 {
		t.Error("expected cached path pointer for repeated start")
	}
}
