// Package catalog manages object selection and descriptive catalog
// metadata: which objects the user has selected, and what the external
// satellite catalog knows about them.
package catalog

// Record is the descriptive metadata for one cataloged object, fetched
// from the external satellite catalog and cached for the session.
type Record struct {
	ObjectName     string  `json:"object_name"`
	IntlDesignator string  `json:"intl_designator"`
	NoradID        int     `json:"norad_id"`
	ObjectType     string  `json:"object_type"`
	Owner          string  `json:"owner"`
	LaunchDate     string  `json:"launch_date"`
	LaunchSite     string  `json:"launch_site"`
	PeriodMinutes  float64 `json:"period_minutes"`
	InclinationDeg float64 `json:"inclination_deg"`
	ApogeeKm       float64 `json:"apogee_km"`
	PerigeeKm      float64 `json:"perigee_km"`
	RCS            float64 `json:"rcs_m2"`

	// Placeholder records stand in when the external lookup failed or
	// found nothing; Note says which.
	Placeholder bool   `json:"placeholder,omitempty"`
	Note        string `json:"note,omitempty"`
}

// placeholderRecord builds the fallback record cached for failed or empty
// lookups.
func placeholderRecord(name string, noradID int, note string) *Record {
	return &Record{
		ObjectName:  name,
		NoradID:     noradID,
		Placeholder: true,
		Note:        note,
	}
}
