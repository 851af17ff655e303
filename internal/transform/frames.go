// Package transform converts satellite states between reference frames.
//
// SGP4 propagation yields positions in TEME (True Equator Mean Equinox, an
// ECI realization) in kilometres. Everything downstream — visibility,
// ground tracks, the API — works in Earth-fixed metres or geodetic
// coordinates, so the conversions here also handle the km→m unit change.
//
// The TEME→ECEF rotation uses GMST only (TEME → PEF ≈ ECEF), ignoring polar
// motion and the equation of the equinoxes. The resulting error is tens of
// metres at most, well inside what tracking and visibility work needs.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// TEMEState is a satellite position/velocity in the TEME frame (km, km/s).
type TEMEState struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// ECEFState is a satellite position/velocity in the ECEF frame (metres, m/s).
type ECEFState struct {
	X, Y, Z    float64
	VX, VY, VZ float64
}

// ToECEF rotates a TEME state into ECEF at the given UTC time.
// GMST is computed for exactly t; never pass a state sampled at a
// different time.
func ToECEF(teme TEMEState, t time.Time) ECEFState {
	return ToECEFAtGMST(teme, GMST(t))
}

// ToECEFAtGMST rotates TEME into ECEF using a precomputed GMST angle in
// radians. Use this when transforming many satellites sampled at the same
// instant, so GMST is computed once.
//
//	r_ECEF = R3(θ) · r_TEME
//	v_ECEF = R3(θ) · v_TEME − ω × r_ECEF
func ToECEFAtGMST(teme TEMEState, gmst float64) ECEFState {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x := teme.X*cosG + teme.Y*sinG
	y := -teme.X*sinG + teme.Y*cosG
	z := teme.Z

	vx := teme.VX*cosG + teme.VY*sinG
	vy := -teme.VX*sinG + teme.VY*cosG
	vz := teme.VZ

	// ω × r_ECEF = [-ω·y, ω·x, 0]
	vx += OmegaEarth * y
	vy -= OmegaEarth * x

	const kmToM = 1000.0
	return ECEFState{
		X: x * kmToM, Y: y * kmToM, Z: z * kmToM,
		VX: vx * kmToM, VY: vy * kmToM, VZ: vz * kmToM,
	}
}

// GeodeticAt is the full TEME→geodetic pipeline for a single sample:
// rotate into ECEF at time t, then reduce to latitude/longitude/altitude.
func GeodeticAt(teme TEMEState, t time.Time) Geodetic {
	ecef := ToECEF(teme, t)
	return ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
}

// ValidECEF reports whether an ECEF position is physically plausible for an
// Earth-orbiting object: finite components with a magnitude between low
// orbit and a little beyond GEO.
func ValidECEF(s ECEFState) bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	mag := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
	const (
		minRadiusM = 6200.0e3
		maxRadiusM = 50000.0e3
	)
	return mag >= minRadiusM && mag <= maxRadiusM
}
