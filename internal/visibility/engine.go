// Package visibility decides what a ground observer can see.
//
// The model is spherical: the horizon half-angle for a satellite at
// altitude h is acos(R/(R+h)), and the observer sees the satellite when
// the Earth-central angle between the observer and the sub-point is within
// that half-angle. Good to a fraction of a degree, which is all a
// visibility indicator needs.
package visibility

import (
	"math"

	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// EarthRadiusM is the mean Earth radius used by the spherical model.
const EarthRadiusM = 6371.0e3

// Status is the visibility verdict for one object at one instant.
// Recomputed every tick, never stored historically.
type Status struct {
	Visible         bool
	CentralAngleRad float64 // observer to sub-point, Earth-central
	HorizonRad      float64 // half-angle of the satellite's horizon circle
	CoverageRadiusM float64 // ground radius of the coverage circle
}

// HorizonAngle returns the horizon half-angle in radians for a satellite
// at altM metres above the surface.
func HorizonAngle(altM float64) float64 {
	if altM < 0 {
		altM = 0
	}
	return math.Acos(EarthRadiusM / (EarthRadiusM + altM))
}

// Compute evaluates visibility of a satellite sub-point from an observer.
//
// Central angle via the spherical law of cosines:
//
//	cosΘ = sin(latO)·sin(latS) + cos(latO)·cos(latS)·cos(lonS − lonO)
//
// cosΘ is clamped to [-1, 1] before acos; rounding can push it just
// outside for near-coincident points.
func Compute(obs transform.Observer, sat transform.Geodetic) Status {
	latS := sat.LatDeg * math.Pi / 180.0
	lonS := sat.LonDeg * math.Pi / 180.0

	cosTheta := math.Sin(obs.LatRad)*math.Sin(latS) +
		math.Cos(obs.LatRad)*math.Cos(latS)*math.Cos(lonS-obs.LonRad)
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	phi := HorizonAngle(sat.AltM)

	return Status{
		Visible:         theta <= phi,
		CentralAngleRad: theta,
		HorizonRad:      phi,
		CoverageRadiusM: EarthRadiusM * phi,
	}
}
