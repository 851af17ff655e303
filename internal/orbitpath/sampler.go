// Package orbitpath discretizes orbits into time-stamped Earth-fixed
// position sequences for trajectory display.
package orbitpath

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// ErrNoPath marks an object whose orbit cannot be sampled: propagation
// failed somewhere inside the requested span. Callers suppress the
// trajectory for that object and move on.
var ErrNoPath = errors.New("orbit path unavailable")

// Config tunes path resolution. Step trades cost against fidelity near
// turning points; Periods controls how many full loops are drawn.
type Config struct {
	Step    time.Duration
	Periods int
}

// DefaultConfig samples two full orbits at one-minute resolution.
func DefaultConfig() Config {
	return Config{Step: 60 * time.Second, Periods: 2}
}

func (c Config) normalized() Config {
	if c.Step <= 0 {
		c.Step = 60 * time.Second
	}
	if c.Periods <= 0 {
		c.Periods = 2
	}
	return c
}

// Point is one sample along a path.
type Point struct {
	Time     time.Time
	ECEF     transform.ECEFState
	Geodetic transform.Geodetic
}

// Path is an ordered, immutable sequence of samples spanning whole orbital
// periods from Start at a fixed Step.
type Path struct {
	NoradID int
	Start   time.Time
	Step    time.Duration
	Points  []Point
}

// Span returns the time covered by the path.
func (p *Path) Span() time.Duration {
	if len(p.Points) == 0 {
		return 0
	}
	return p.Points[len(p.Points)-1].Time.Sub(p.Points[0].Time)
}

// Walk lazily yields samples from offset 0 up to and including the span
// derived from the record's orbital period. Each sample propagates and
// frame-transforms at its own timestamp. The sequence is finite and
// restartable: ranging again over the same (record, start) yields the same
// points. A non-nil error ends the walk; it means propagation failed at
// that offset and the object has no renderable path from here on.
func Walk(rec *tle.Record, start time.Time, cfg Config) iter.Seq2[Point, error] {
	cfg = cfg.normalized()
	span := time.Duration(rec.PeriodMinutes() * float64(cfg.Periods) * float64(time.Minute))

	return func(yield func(Point, error) bool) {
		prop := rec.Propagator()
		for offset := time.Duration(0); offset <= span; offset += cfg.Step {
			t := start.Add(offset)
			teme, err := prop.At(t)
			if err != nil {
				yield(Point{Time: t}, err)
				return
			}
			ecef := transform.ToECEF(teme, t)
			pt := Point{
				Time:     t,
				ECEF:     ecef,
				Geodetic: transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z),
			}
			if !yield(pt, nil) {
				return
			}
		}
	}
}

// Sample materializes a full path. On the first propagation failure the
// whole path is abandoned and the error wraps ErrNoPath.
func Sample(rec *tle.Record, start time.Time, cfg Config) (*Path, error) {
	cfg = cfg.normalized()
	path := &Path{
		NoradID: rec.NoradID,
		Start:   start,
		Step:    cfg.Step,
	}

	for pt, err := range Walk(rec, start, cfg) {
		if err != nil {
			return nil, fmt.Errorf("catalog %d at %s: %w: %w",
				rec.NoradID, pt.Time.Format(time.RFC3339), ErrNoPath, err)
		}
		path.Points = append(path.Points, pt)
	}

	return path, nil
}
