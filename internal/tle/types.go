package tle

import (
	"math"
	"strings"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
)

// Record is one parsed two-line element set. Immutable once parsed: the
// raw lines, the derived element fields, and the initialized propagator
// state never change after Parse returns.
type Record struct {
	Name    string
	NoradID int
	Epoch   time.Time
	Line1   string
	Line2   string

	// Derived from line 2 for period math and display.
	MeanMotion     float64 // revolutions per day
	InclinationDeg float64
	Eccentricity   float64

	// Propagator-internal state, opaque to everything outside
	// the propagation adapter.
	prop *propagation.Propagator
}

// Key returns the case-normalized catalog key for this record.
func (r *Record) Key() string {
	return NormalizeKey(r.Name)
}

// NormalizeKey upper-cases a name for index lookups.
func NormalizeKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Propagator returns the prepared SGP4 state for this record.
func (r *Record) Propagator() *propagation.Propagator {
	return r.prop
}

// MeanMotionRadPerMin converts the mean motion to radians per minute.
func (r *Record) MeanMotionRadPerMin() float64 {
	return r.MeanMotion * 2.0 * math.Pi / 1440.0
}

// PeriodMinutes derives the orbital period from the mean motion:
// (1 / n_radPerMin) * 2π.
func (r *Record) PeriodMinutes() float64 {
	return 2.0 * math.Pi / r.MeanMotionRadPerMin()
}

// CatalogSet holds parsed records in input order plus a normalized-name
// index for O(1) lookup. The ordered list keeps every record, including
// duplicate names; the index keeps only the most recent one per key.
type CatalogSet struct {
	Records []*Record
	byKey   map[string]*Record
}

// NewCatalogSet returns an empty set.
func NewCatalogSet() *CatalogSet {
	return &CatalogSet{byKey: make(map[string]*Record)}
}

// add appends a record and indexes it by normalized name. Returns the
// record previously indexed under the same key, or nil.
func (s *CatalogSet) add(r *Record) *Record {
	prev := s.byKey[r.Key()]
	s.Records = append(s.Records, r)
	s.byKey[r.Key()] = r
	return prev
}

// Lookup returns the record indexed under the normalized form of name.
func (s *CatalogSet) Lookup(name string) (*Record, bool) {
	r, ok := s.byKey[NormalizeKey(name)]
	return r, ok
}

// ByNorad scans the ordered list for a catalog number. Linear; the name
// index is the hot path, this serves the API's numeric routes.
func (s *CatalogSet) ByNorad(noradID int) (*Record, bool) {
	for _, r := range s.Records {
		if r.NoradID == noradID {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of records in input order.
func (s *CatalogSet) Len() int {
	return len(s.Records)
}

// EpochRange is the min/max element epoch in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete element-set load from one source at one time.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Set        *CatalogSet
}

// RangeOf computes the epoch range across a catalog set.
func RangeOf(s *CatalogSet) EpochRange {
	var er EpochRange
	for i, r := range s.Records {
		if i == 0 {
			er.Min, er.Max = r.Epoch, r.Epoch
			continue
		}
		if r.Epoch.Before(er.Min) {
			er.Min = r.Epoch
		}
		if r.Epoch.After(er.Max) {
			er.Max = r.Epoch
		}
	}
	return er
}
