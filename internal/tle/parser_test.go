package tle

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"

	starlinkName  = "STARLINK-1007"
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

func issText() string {
	return issName + "\n" + issLine1 + "\n" + issLine2 + "\n"
}

func TestParseWellFormedGroup(t *testing.T) {
	set, err := Parse(strings.NewReader(issText()), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", set.Len())
	}

	rec := set.Records[0]
	if rec.Name != issName {
		t.Errorf("name = %q, want %q", rec.Name, issName)
	}
	if rec.NoradID != 25544 {
		t.Errorf("norad id = %d, want 25544", rec.NoradID)
	}
	if rec.Key() != NormalizeKey(issName) {
		t.Errorf("key round trip failed: %q vs %q", rec.Key(), NormalizeKey(issName))
	}

	// Derived elements straight from line 2.
	if math.Abs(rec.MeanMotion-15.5) > 1e-9 {
		t.Errorf("mean motion = %f, want 15.5", rec.MeanMotion)
	}
	if math.Abs(rec.InclinationDeg-51.64) > 1e-9 {
		t.Errorf("inclination = %f, want 51.64", rec.InclinationDeg)
	}
	if math.Abs(rec.Eccentricity-0.0001000) > 1e-9 {
		t.Errorf("eccentricity = %f, want 0.0001", rec.Eccentricity)
	}

	// Period from mean motion: 1440/15.5 minutes.
	if math.Abs(rec.PeriodMinutes()-1440.0/15.5) > 1e-9 {
		t.Errorf("period = %f min, want %f", rec.PeriodMinutes(), 1440.0/15.5)
	}

	// Epoch: day 100.5 of 2024 = April 9, 12:00 UTC.
	wantEpoch := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	if !rec.Epoch.Equal(wantEpoch) {
		t.Errorf("epoch = %v, want %v", rec.Epoch, wantEpoch)
	}

	if rec.Propagator() == nil {
		t.Error("record has no propagator state")
	}
}

func TestParseLookupIsCaseNormalized(t *testing.T) {
	set, err := Parse(strings.NewReader(issText()), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for _, name := range []string{"iss (zarya)", "ISS (ZARYA)", "  Iss (Zarya)  "} {
		if _, ok := set.Lookup(name); !ok {
			t.Errorf("Lookup(%q) missed", name)
		}
	}
	if _, ok := set.Lookup("NO SUCH OBJECT"); ok {
		t.Error("Lookup of unknown name succeeded")
	}
}

func TestParseSkipsMalformedGroups(t *testing.T) {
	text := "BROKEN SAT\nnot an element line\nalso not one\n" +
		issText() +
		"TRAILING NAME ONLY\n"

	set, err := Parse(strings.NewReader(text), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 record after skipping garbage, got %d", set.Len())
	}
	if set.Records[0].NoradID != 25544 {
		t.Errorf("surviving record norad = %d, want 25544", set.Records[0].NoradID)
	}
}

func TestParseModelRejectionDiscardsGroup(t *testing.T) {
	// Correct line structure but non-numeric catalog field.
	bad := "BADSAT\n" +
		"1 XXXXXU 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\n" +
		"2 XXXXX  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"

	set, err := Parse(strings.NewReader(bad+issText()), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected bad group discarded, got %d records", set.Len())
	}
}

func TestParseDuplicateNameLastWinsInIndex(t *testing.T) {
	dup := issName + "\n" + starlinkLine1 + "\n" + starlinkLine2 + "\n"

	set, err := Parse(strings.NewReader(issText()+dup), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Both records remain in the ordered list.
	if set.Len() != 2 {
		t.Fatalf("expected 2 records in ordered list, got %d", set.Len())
	}

	// The index points at the later record.
	rec, ok := set.Lookup(issName)
	if !ok {
		t.Fatal("Lookup missed duplicated name")
	}
	if rec.NoradID != 44713 {
		t.Errorf("index kept norad %d, want later record 44713", rec.NoradID)
	}
}

func TestParseByNorad(t *testing.T) {
	text := issText() + starlinkName + "\n" + starlinkLine1 + "\n" + starlinkLine2 + "\n"
	set, err := Parse(strings.NewReader(text), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if rec, ok := set.ByNorad(44713); !ok || rec.Name != starlinkName {
		t.Errorf("ByNorad(44713) = %v, %v", rec, ok)
	}
	if _, ok := set.ByNorad(1); ok {
		t.Error("ByNorad(1) found a record")
	}
}

func TestRangeOf(t *testing.T) {
	text := issText() + starlinkName + "\n" + starlinkLine1 + "\n" + starlinkLine2 + "\n"
	set, _ := Parse(strings.NewReader(text), testLogger)

	er := RangeOf(set)
	if er.Min.IsZero() || er.Max.Before(er.Min) {
		t.Errorf("bad epoch range: %+v", er)
	}
}
