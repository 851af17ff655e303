package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestElementAndCatalogCountersAreSeparate: element set downloads and
// SATCAT lookups report on different counter families.
func TestElementAndCatalogCountersAreSeparate(t *testing.T) {
	catalogBefore := testutil.ToFloat64(catalogFetchesTotal.WithLabelValues("ok"))
	elementBefore := testutil.ToFloat64(elementFetchesTotal.WithLabelValues("ok"))

	IncElementFetch("ok")

	if got := testutil.ToFloat64(elementFetchesTotal.WithLabelValues("ok")); got != elementBefore+1 {
		t.Errorf("element counter = %v, want %v", got, elementBefore+1)
	}
	if got := testutil.ToFloat64(catalogFetchesTotal.WithLabelValues("ok")); got != catalogBefore {
		t.Errorf("catalog counter moved to %v on an element fetch", got)
	}

	IncCatalogFetch("ok")
	if got := testutil.ToFloat64(elementFetchesTotal.WithLabelValues("ok")); got != elementBefore+1 {
		t.Errorf("element counter moved to %v on a catalog lookup", got)
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/ws", "/ws"},
		{"/api/v1/satellites", "/api/v1/satellites"},
		{"/api/v1/visible", "/api/v1/visible"},
		{"/api/v1/selection", "/api/v1/selection"},
		{"/api/v1/observer", "/api/v1/observer"},
		{"/api/v1/conjunctions", "/api/v1/conjunctions"},

		// Parameterized routes collapse to one label each.
		{"/api/v1/satellites/25544", "/api/v1/satellites/{id}"},
		{"/api/v1/satellites/25544/position", "/api/v1/satellites/{id}/position"},
		{"/api/v1/satellites/44713/path", "/api/v1/satellites/{id}/path"},
		{"/api/v1/satellites/44713/nextpass", "/api/v1/satellites/{id}/nextpass"},
		{"/api/v1/selection/ISS%20(ZARYA)", "/api/v1/selection/{key}"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
		{"/api/v1/satellites/25544/unknown", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizeRoute(tt.path); got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestSatelliteRouteCardinality verifies many catalog numbers map to a
// single path label.
func TestSatelliteRouteCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for _, id := range []string{"1", "25544", "44713", "99999"} {
		seen[normalizeRoute("/api/v1/satellites/"+id+"/position")] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label, got %d: %v", len(seen), seen)
	}
}
