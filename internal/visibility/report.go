package visibility

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// ReportRow is one currently-visible object in the export report.
type ReportRow struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// WriteCSV writes the visible-objects report as CSV with a header row.
func WriteCSV(w io.Writer, rows []ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "latitude", "longitude", "altitude_m"}); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.Name,
			strconv.FormatFloat(r.LatDeg, 'f', 6, 64),
			strconv.FormatFloat(r.LonDeg, 'f', 6, 64),
			strconv.FormatFloat(r.AltM, 'f', 0, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing report row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes the report as an aligned plain-text table.
func WriteTable(w io.Writer, rows []ReportRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAT\tLON\tALT_KM")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.1f\n", r.Name, r.LatDeg, r.LonDeg, r.AltM/1000.0)
	}
	return tw.Flush()
}
