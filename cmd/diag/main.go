// Command diag is a standalone sanity check: it parses an element file,
// propagates every object to now, and prints the visible-objects report
// for a given ground location.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/transform"
	"github.com/orbitwatch/orbitwatch/internal/visibility"
)

func main() {
	elementsPath := pflag.String("elements", "", "path to a TLE element file")
	lat := pflag.Float64("lat", 39.7392, "observer latitude in degrees")
	lon := pflag.Float64("lon", -104.9903, "observer longitude in degrees")
	alt := pflag.Float64("alt", 1609, "observer altitude in metres")
	riseFor := pflag.Int("rise", 0, "catalog number to search a rise time for")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *elementsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: diag --elements <file> [--lat --lon --alt] [--rise <norad>]")
		os.Exit(1)
	}

	f, err := os.Open(*elementsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR opening element file:", err)
		os.Exit(1)
	}
	defer f.Close()

	set, err := tle.Parse(f, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR parsing elements:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d element records\n", set.Len())
	if set.Len() > 0 {
		first := set.Records[0]
		fmt.Printf("First record: %s (NORAD %d) epoch %v period %.1f min\n",
			first.Name, first.NoradID, first.Epoch, first.PeriodMinutes())
	}

	obs := transform.NewObserver(*lat, *lon, *alt)
	now := time.Now().UTC()
	fmt.Printf("Observer: %.4f, %.4f at %.0f m; time %v\n\n", *lat, *lon, *alt, now)

	pool := propagation.NewWorkerPool(8, logger)
	targets := make([]propagation.Target, 0, set.Len())
	for _, rec := range set.Records {
		targets = append(targets, propagation.Target{NoradID: rec.NoradID, Prop: rec.Propagator()})
	}

	states, failures := pool.PropagateBatch(context.Background(), targets, now)
	fmt.Printf("Propagated %d objects, %d failed\n\n", len(states), len(failures))

	var rows []visibility.ReportRow
	for _, st := range states {
		status := visibility.Compute(obs, st.Geodetic)
		if !status.Visible {
			continue
		}
		rec, ok := set.ByNorad(st.NoradID)
		if !ok {
			continue
		}
		rows = append(rows, visibility.ReportRow{
			Name:   rec.Name,
			LatDeg: st.Geodetic.LatDeg,
			LonDeg: st.Geodetic.LonDeg,
			AltM:   st.Geodetic.AltM,
		})
	}

	fmt.Printf("%d objects above the horizon:\n", len(rows))
	if err := visibility.WriteTable(os.Stdout, rows); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR writing report:", err)
		os.Exit(1)
	}

	if *riseFor != 0 {
		rec, ok := set.ByNorad(*riseFor)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: NORAD %d not in element file\n", *riseFor)
			os.Exit(1)
		}
		minutes, found := visibility.TimeToRise(rec.Propagator(), obs, now, visibility.DefaultRiseSearchMinutes)
		if !found {
			fmt.Printf("\n%s: no rise within %d minutes\n", rec.Name, visibility.DefaultRiseSearchMinutes)
		} else {
			fmt.Printf("\n%s rises in %d minutes (%v)\n",
				rec.Name, minutes, now.Add(time.Duration(minutes)*time.Minute).Format(time.RFC3339))
		}
	}
}
