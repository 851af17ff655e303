// Package propagation wraps the SGP4/SDP4 analytic model behind a small
// per-satellite adapter.
//
// Library: github.com/joshuaferrara/go-satellite. Pure Go, widely used,
// explicit TEME output, and it ships the reference ECIToECEF/GSTime helpers
// the transform tests cross-check against.
//
// go-satellite's Propagate takes the Satellite struct by value, so the
// model's internal error codes never reach the caller. Decay and divergence
// are instead detected here by checking the output for NaN/Inf and for
// position magnitudes outside any survivable orbit.
package propagation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// ErrDecayed marks a propagation failure at a specific timestamp: the model
// produced a non-physical state, typically because the object has decayed.
// Callers stop sampling the object from that point on; other objects are
// unaffected.
var ErrDecayed = errors.New("propagation failed: object decayed or state non-physical")

// Propagator holds the initialized SGP4 state for one element set.
// Immutable after construction; safe for concurrent use.
type Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// New initializes the SGP4 model from two element lines. The element lines
// are validated structurally first, because go-satellite calls log.Fatal on
// malformed input, and then through the model's own initialization, which
// rejects non-physical elements with an error code.
func New(line1, line2 string, noradID int) (*Propagator, error) {
	if err := checkLines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid element set for catalog %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for catalog %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &Propagator{sat: sat, noradID: noradID}, nil
}

// checkLines performs structural validation of the element lines.
func checkLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got %q", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got %q", line2[0])
	}
	return nil
}

// NoradID returns the catalog number this propagator was built for.
func (p *Propagator) NoradID() int {
	return p.noradID
}

// At propagates the satellite to the given UTC time and returns its TEME
// state (km, km/s). A returned error wraps ErrDecayed: the timestamp is
// past the model's validity for this object, and the caller should treat
// the object as non-renderable from here forward.
func (p *Propagator) At(t time.Time) (transform.TEMEState, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return transform.TEMEState{}, fmt.Errorf("catalog %d at %s: output NaN/Inf: %w",
			p.noradID, t.Format(time.RFC3339), ErrDecayed)
	}

	// Anything under ~6200 km has re-entered; anything over ~50000 km has
	// diverged from a bound orbit the model can represent.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return transform.TEMEState{}, fmt.Errorf("catalog %d at %s: position magnitude %.1f km: %w",
			p.noradID, t.Format(time.RFC3339), mag, ErrDecayed)
	}

	return transform.TEMEState{
		X: pos.X, Y: pos.Y, Z: pos.Z,
		VX: vel.X, VY: vel.Y, VZ: vel.Z,
	}, nil
}
