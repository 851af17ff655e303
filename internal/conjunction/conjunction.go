// Package conjunction finds close approaches between catalog objects by
// sampling their propagated TEME positions over an analysis window. Both
// objects are sampled on the same timestamps, so the separation is a plain
// Euclidean distance in a shared frame.
package conjunction

import (
	"fmt"
	"math"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// Risk levels for a closest approach, graded by minimum separation.
const (
	RiskCritical = "CRITICAL" // under 1 km
	RiskHigh     = "HIGH"     // under 5 km
	RiskMedium   = "MEDIUM"   // under the reporting threshold
	RiskLow      = "LOW"
)

// Config controls the sampling grid and the screening threshold.
type Config struct {
	Window      time.Duration // analysis span from the start time
	Samples     int           // evenly spaced sample count across the window
	ThresholdKm float64       // screening keeps approaches at or under this
	MaxObjects  int           // cap on objects considered by Screen
}

// DefaultConfig returns the analysis defaults: 24 h window, 1000 samples,
// 10 km screening threshold, first 100 objects.
func DefaultConfig() Config {
	return Config{
		Window:      24 * time.Hour,
		Samples:     1000,
		ThresholdKm: 10.0,
		MaxObjects:  100,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Samples < 2 {
		c.Samples = d.Samples
	}
	if c.ThresholdKm <= 0 {
		c.ThresholdKm = d.ThresholdKm
	}
	if c.MaxObjects <= 0 {
		c.MaxObjects = d.MaxObjects
	}
	return c
}

// Approach is the closest approach found between two objects.
type Approach struct {
	PrimaryID     int       `json:"primary_norad_id"`
	SecondaryID   int       `json:"secondary_norad_id"`
	Time          time.Time `json:"closest_approach_time"`
	MinDistanceKm float64   `json:"minimum_distance_km"`
	RiskLevel     string    `json:"risk_level"`
	Probability   float64   `json:"probability"`
}

// grade maps a minimum separation to a risk level and a coarse collision
// probability.
func grade(distKm, thresholdKm float64) (string, float64) {
	switch {
	case distKm < 1.0:
		return RiskCritical, 0.9
	case distKm < 5.0:
		return RiskHigh, 0.7
	case distKm <= thresholdKm:
		return RiskMedium, 0.4
	default:
		return RiskLow, 0.1
	}
}

// ClosestApproach samples both objects across the window and returns the
// sample with the smallest separation. A propagation failure on either
// object aborts the analysis; the error wraps propagation.ErrDecayed when
// the model diverged.
func ClosestApproach(a, b *propagation.Propagator, start time.Time, cfg Config) (Approach, error) {
	cfg = cfg.normalized()
	start = start.UTC()

	posA, times, err := sampleSeries(a, start, cfg)
	if err != nil {
		return Approach{}, err
	}
	posB, _, err := sampleSeries(b, start, cfg)
	if err != nil {
		return Approach{}, err
	}

	minIdx, minKm := closestIndex(posA, posB)
	level, prob := grade(minKm, cfg.ThresholdKm)
	return Approach{
		PrimaryID:     a.NoradID(),
		SecondaryID:   b.NoradID(),
		Time:          times[minIdx],
		MinDistanceKm: minKm,
		RiskLevel:     level,
		Probability:   prob,
	}, nil
}

// Screen runs a pairwise closest-approach analysis over the first
// MaxObjects records and returns the approaches at or under the screening
// threshold. Objects that fail to propagate anywhere in the window are
// dropped from the analysis rather than failing the whole screen.
func Screen(records []*tle.Record, start time.Time, cfg Config) []Approach {
	cfg = cfg.normalized()
	start = start.UTC()

	if len(records) > cfg.MaxObjects {
		records = records[:cfg.MaxObjects]
	}

	type series struct {
		prop *propagation.Propagator
		pos  []transform.TEMEState
	}
	var times []time.Time
	objects := make([]series, 0, len(records))
	for _, rec := range records {
		pos, ts, err := sampleSeries(rec.Propagator(), start, cfg)
		if err != nil {
			continue
		}
		times = ts
		objects = append(objects, series{prop: rec.Propagator(), pos: pos})
	}

	var approaches []Approach
	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			minIdx, minKm := closestIndex(objects[i].pos, objects[j].pos)
			if minKm > cfg.ThresholdKm {
				continue
			}
			level, prob := grade(minKm, cfg.ThresholdKm)
			approaches = append(approaches, Approach{
				PrimaryID:     objects[i].prop.NoradID(),
				SecondaryID:   objects[j].prop.NoradID(),
				Time:          times[minIdx],
				MinDistanceKm: minKm,
				RiskLevel:     level,
				Probability:   prob,
			})
		}
	}
	return approaches
}

// sampleSeries propagates one object at every grid timestamp.
func sampleSeries(p *propagation.Propagator, start time.Time, cfg Config) ([]transform.TEMEState, []time.Time, error) {
	step := cfg.Window / time.Duration(cfg.Samples-1)
	pos := make([]transform.TEMEState, cfg.Samples)
	times := make([]time.Time, cfg.Samples)

	for i := 0; i < cfg.Samples; i++ {
		t := start.Add(time.Duration(i) * step)
		st, err := p.At(t)
		if err != nil {
			return nil, nil, fmt.Errorf("sampling catalog %d: %w", p.NoradID(), err)
		}
		pos[i] = st
		times[i] = t
	}
	return pos, times, nil
}

// closestIndex returns the grid index and separation of the smallest
// pairwise distance between two equal-length position series.
func closestIndex(a, b []transform.TEMEState) (int, float64) {
	minIdx, minKm := 0, math.Inf(1)
	for i := range a {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		dz := a[i].Z - b[i].Z
		if d := math.Sqrt(dx*dx + dy*dy + dz*dz); d < minKm {
			minIdx, minKm = i, d
		}
	}
	return minIdx, minKm
}
