// Package geojoin attaches statistical tables to geometry tables by GEOID.
//
// The join is a left outer join of geometry ← statistics: every geometry row
// survives, statistics without a geometry row are reported, never added.
package geojoin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// DefaultGeometryID is the identifier field of TIGER feature classes.
const DefaultGeometryID = "GEOID"

// prefixLen is the length of the summary-level prefix on statistical ids,
// e.g. "1400000US" in "1400000US06059001101".
const prefixLen = 9

// ErrDuplicateGeometry is returned when two geometry rows share a GEOID.
var ErrDuplicateGeometry = errors.New("duplicate geometry identifier")

// StripPrefix removes the "<summary level>US" prefix of a statistical
// identifier. Identifiers without the prefix are returned unchanged.
func StripPrefix(id string) string {
	if len(id) >= prefixLen && id[prefixLen-2:prefixLen] == "US" {
		return id[prefixLen:]
	}
	return id
}

// Options tunes a join.
type Options struct {
	// GeometryID is the identifier field of the geometry table
	// (default DefaultGeometryID).
	GeometryID string
	// Denylist overrides the default denylist of the geography.
	Denylist *geography.Denylist
	// State and County select the default denylist.
	State  string
	County string
	Logger *slog.Logger
}

// Diagnostics records what the join observed. None of it fails the join.
type Diagnostics struct {
	GeometryRows int `json:"geometry_rows"`
	StatsRows    int `json:"stats_rows"`
	Matched      int `json:"matched"`
	Denied       int `json:"denied"`
	// DuplicateStats lists statistical ids seen more than once; the first
	// row was kept.
	DuplicateStats []string `json:"duplicate_stats,omitempty"`
	// UnmatchedGeometry lists geometry ids with no statistics row.
	UnmatchedGeometry []string `json:"unmatched_geometry,omitempty"`
	// UnmatchedStats lists statistics ids with no geometry row.
	UnmatchedStats []string `json:"unmatched_stats,omitempty"`
	// SkippedFields lists statistics fields already present on the geometry.
	SkippedFields []string `json:"skipped_fields,omitempty"`
}

// CountsDiffer reports a row-count discrepancy between the two sides.
func (d Diagnostics) CountsDiffer() bool { return d.GeometryRows != d.StatsRows }

// Discrepancy describes the count mismatch, or "" when counts agree.
func (d Diagnostics) Discrepancy() string {
	switch {
	case d.GeometryRows > d.StatsRows:
		return fmt.Sprintf("geometry has %d records, statistics has %d (%d fewer); %d geometry rows carry null statistics",
			d.GeometryRows, d.StatsRows, d.GeometryRows-d.StatsRows, len(d.UnmatchedGeometry))
	case d.GeometryRows < d.StatsRows:
		return fmt.Sprintf("statistics has %d records, geometry has %d (%d fewer); %d statistics rows have no geometry",
			d.StatsRows, d.GeometryRows, d.StatsRows-d.GeometryRows, len(d.UnmatchedStats))
	}
	return ""
}

// Result is the merged table plus its diagnostics.
type Result struct {
	Table       *gis.Table
	Diagnostics Diagnostics
}

// Join merges stats onto geom for geography code. Denylisted ids are removed
// from both sides first, so the output has one row per remaining geometry row.
func Join(geom, stats *gis.Table, code geography.Code, opts Options) (*Result, error) {
	if _, err := geography.Lookup(code); err != nil {
		return nil, err
	}
	if geom == nil || stats == nil {
		return nil, errors.New("join needs both a geometry and a statistics table")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	geomID := opts.GeometryID
	if geomID == "" {
		geomID = DefaultGeometryID
	}
	if !geom.HasField(geomID) {
		return nil, fmt.Errorf("geometry table %s has no %s field", geom.Name, geomID)
	}
	if stats.IDField == "" || !stats.HasField(stats.IDField) {
		return nil, fmt.Errorf("statistics table %s has no identifier field", stats.Name)
	}
	deny := opts.Denylist
	if deny == nil {
		deny = geography.DefaultDenylist(code, opts.State, opts.County)
	}

	var d Diagnostics

	// Statistics side: normalize, deny, dedupe.
	byID := make(map[string]gis.Record, len(stats.Records))
	var statsOrder []string
	for _, r := range stats.Records {
		id := StripPrefix(stats.ID(r))
		if deny.Contains(id) {
			d.Denied++
			continue
		}
		if _, dup := byID[id]; dup {
			d.DuplicateStats = append(d.DuplicateStats, id)
			continue
		}
		byID[id] = r
		statsOrder = append(statsOrder, id)
	}
	d.StatsRows = len(statsOrder)

	// Geometry side: deny, reject duplicates.
	seen := make(map[string]bool, len(geom.Records))
	var kept []gis.Record
	for _, r := range geom.Records {
		id := gis.AsString(r[geomID])
		if deny.Contains(id) {
			d.Denied++
			continue
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateGeometry, id, geom.Name)
		}
		seen[id] = true
		kept = append(kept, r)
	}
	d.GeometryRows = len(kept)

	var statFields []string
	for _, f := range stats.Fields {
		if f == stats.IDField {
			continue
		}
		if geom.HasField(f) {
			d.SkippedFields = append(d.SkippedFields, f)
			continue
		}
		statFields = append(statFields, f)
	}

	out := &gis.Table{
		Name:    geom.Name,
		IDField: geomID,
		Fields:  append(append([]string(nil), geom.Fields...), statFields...),
		Records: make([]gis.Record, 0, len(kept)),
	}
	for _, g := range kept {
		rec := make(gis.Record, len(g)+len(statFields))
		for k, v := range g {
			rec[k] = v
		}
		s, ok := byID[gis.AsString(g[geomID])]
		if ok {
			d.Matched++
		} else {
			d.UnmatchedGeometry = append(d.UnmatchedGeometry, gis.AsString(g[geomID]))
		}
		for _, f := range statFields {
			if ok {
				rec[f] = s[f]
			} else {
				rec[f] = nil
			}
		}
		out.Records = append(out.Records, rec)
	}
	for _, id := range statsOrder {
		if !seen[id] {
			d.UnmatchedStats = append(d.UnmatchedStats, id)
		}
	}
	sort.Strings(d.UnmatchedGeometry)
	sort.Strings(d.UnmatchedStats)

	if len(d.DuplicateStats) > 0 {
		logger.Warn("duplicate statistics identifiers, first row kept",
			"table", stats.Name, "count", len(d.DuplicateStats))
	}
	if d.CountsDiffer() {
		logger.Warn("geometry and statistics record counts differ",
			"geography", code,
			"geometry_rows", d.GeometryRows,
			"stats_rows", d.StatsRows,
			"unmatched_geometry", len(d.UnmatchedGeometry),
			"unmatched_stats", len(d.UnmatchedStats),
		)
	}
	return &Result{Table: out, Diagnostics: d}, nil
}
