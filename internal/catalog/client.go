package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultCatalogURL = "https://celestrak.org/satcat/records.php"

// ErrNotFound means the catalog has no entry for the requested object.
// A valid terminal state, not a transport failure.
var ErrNotFound = errors.New("no catalog entry")

// Client performs a single descriptive lookup by catalog number.
type Client interface {
	Lookup(ctx context.Context, noradID int) (*Record, error)
}

// satcatEntry mirrors the SATCAT JSON schema.
type satcatEntry struct {
	ObjectName  string  `json:"OBJECT_NAME"`
	ObjectID    string  `json:"OBJECT_ID"`
	NoradCatID  int     `json:"NORAD_CAT_ID"`
	ObjectType  string  `json:"OBJECT_TYPE"`
	Owner       string  `json:"OWNER"`
	LaunchDate  string  `json:"LAUNCH_DATE"`
	LaunchSite  string  `json:"LAUNCH_SITE"`
	Period      float64 `json:"PERIOD"`
	Inclination float64 `json:"INCLINATION"`
	Apogee      float64 `json:"APOGEE"`
	Perigee     float64 `json:"PERIGEE"`
	RCS         float64 `json:"RCS"`
}

// HTTPClient queries a SATCAT-style JSON endpoint.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a catalog client for the given base URL. An empty
// URL selects the default public catalog endpoint.
func NewHTTPClient(baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultCatalogURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Lookup fetches the catalog record for one object. Returns ErrNotFound
// when the catalog answers with an empty result set.
func (c *HTTPClient) Lookup(ctx context.Context, noradID int) (*Record, error) {
	url := fmt.Sprintf("%s?CATNR=%d&FORMAT=json", c.baseURL, noradID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for %d: %w", noradID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog lookup for %d: unexpected status %d", noradID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading catalog response: %w", err)
	}

	var entries []satcatEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding catalog response for %d: %w", noradID, err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	e := entries[0]
	return &Record{
		ObjectName:     e.ObjectName,
		IntlDesignator: e.ObjectID,
		NoradID:        e.NoradCatID,
		ObjectType:     e.ObjectType,
		Owner:          e.Owner,
		LaunchDate:     e.LaunchDate,
		LaunchSite:     e.LaunchSite,
		PeriodMinutes:  e.Period,
		InclinationDeg: e.Inclination,
		ApogeeKm:       e.Apogee,
		PerigeeKm:      e.Perigee,
		RCS:            e.RCS,
	}, nil
}
