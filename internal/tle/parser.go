// Package tle ingests two-line element text into validated, indexed
// catalog records.
package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/propagation"
)

// Parse reads repeating 3-line groups (name, line 1, line 2) from r.
// Malformed groups are skipped with a warning; a group only becomes a
// Record once the SGP4 model accepts its elements. Duplicate names are
// kept in the ordered list but the index keeps the later record, with
// the collision logged.
func Parse(r io.Reader, logger *slog.Logger) (*CatalogSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element data: %w", err)
	}

	set := NewCatalogSet()
	for i := 0; i+2 < len(lines); {
		name := strings.TrimSpace(lines[i])
		line1 := lines[i+1]
		line2 := lines[i+2]

		if name == "" {
			i++
			continue
		}
		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Resync: advance one line and look for the next valid group.
			logger.Warn("skipping malformed element group", "line_index", i, "name", name)
			i++
			continue
		}

		rec, err := buildRecord(name, line1, line2)
		if err != nil {
			// Model rejected the elements; discard the group, not the batch.
			logger.Warn("skipping rejected element group", "name", name, "error", err)
			i += 3
			continue
		}

		if prev := set.add(rec); prev != nil {
			// Later record wins in the index; both stay in the ordered list.
			logger.Warn("duplicate catalog name, index overwritten",
				"name", rec.Name, "kept_norad_id", rec.NoradID, "shadowed_norad_id", prev.NoradID)
		}
		i += 3
	}

	return set, nil
}

// buildRecord derives the element fields and runs the lines through SGP4
// initialization. The fixed-column offsets follow the NORAD element format.
func buildRecord(name, line1, line2 string) (*Record, error) {
	if len(line1) < 32 || len(line2) < 63 {
		return nil, fmt.Errorf("element lines too short (%d, %d)", len(line1), len(line2))
	}

	noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog number %q: %w", line1[2:7], err)
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return nil, fmt.Errorf("invalid epoch: %w", err)
	}

	inclination, err := strconv.ParseFloat(strings.TrimSpace(line2[8:16]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inclination %q: %w", line2[8:16], err)
	}
	eccentricity, err := strconv.ParseFloat("0."+strings.TrimSpace(line2[26:33]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid eccentricity %q: %w", line2[26:33], err)
	}
	meanMotion, err := strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid mean motion %q: %w", line2[52:63], err)
	}
	if meanMotion <= 0 {
		return nil, fmt.Errorf("non-physical mean motion %f", meanMotion)
	}

	prop, err := propagation.New(line1, line2, noradID)
	if err != nil {
		return nil, err
	}

	return &Record{
		Name:           name,
		NoradID:        noradID,
		Epoch:          epoch,
		Line1:          line1,
		Line2:          line2,
		MeanMotion:     meanMotion,
		InclinationDeg: inclination,
		Eccentricity:   eccentricity,
		prop:           prop,
	}, nil
}

// parseEpoch converts the YYDDD.DDDDDDDD epoch field to time.Time.
// Years 00-56 map to the 2000s, 57-99 to the 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// Day of year is 1-based: day 1.0 is Jan 1 00:00.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
