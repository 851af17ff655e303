package visibility

import (
	"time"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// DefaultRiseSearchMinutes bounds the forward rise search. Covers at
// least one full revolution for anything in LEO.
const DefaultRiseSearchMinutes = 120

// TimeToRise steps forward minute by minute from start, propagating and
// testing visibility, until the object first comes above the observer's
// horizon. Returns the elapsed whole minutes and true, or 0 and false if
// the object does not rise within maxMinutes or propagation fails first.
//
// This is a bounded linear search serving an approximate "next pass"
// indicator, not planning-grade timing.
func TimeToRise(prop *propagation.Propagator, obs transform.Observer, start time.Time, maxMinutes int) (int, bool) {
	if maxMinutes <= 0 {
		maxMinutes = DefaultRiseSearchMinutes
	}

	for m := 0; m <= maxMinutes; m++ {
		t := start.Add(time.Duration(m) * time.Minute)
		teme, err := prop.At(t)
		if err != nil {
			return 0, false
		}
		if Compute(obs, transform.GeodeticAt(teme, t)).Visible {
			return m, true
		}
	}
	return 0, false
}
