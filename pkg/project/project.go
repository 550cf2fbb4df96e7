// Package project carries the explicit working context threaded through every
// pipeline service: project root, processing year, area of interest and target
// spatial reference. Nothing in the pipeline reads the process working
// directory.
package project

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// Dataset is the prefix of a per-year geodatabase container.
type Dataset string

const (
	TIGER Dataset = "tl"
	ACS   Dataset = "acs"
	CRE   Dataset = "cr"
)

// Datasets lists the known container prefixes.
func Datasets() []Dataset { return []Dataset{TIGER, ACS, CRE} }

// ParseDataset validates a dataset prefix.
func ParseDataset(s string) (Dataset, error) {
	for _, d := range Datasets() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dataset %q (want tl, acs or cr)", s)
}

// Context is the per-operation working context.
type Context struct {
	Root       string
	Year       int
	State      string // 2-digit state FIPS
	County     string // 3-digit county FIPS
	SpatialRef gis.SpatialRef
	// Boundary is the feature class used as the clip / selection reference.
	Boundary string
	Logger   *slog.Logger
}

// WithYear returns a copy of c for another processing year.
func (c Context) WithYear(year int) Context {
	c.Year = year
	return c
}

// Log returns the context logger or the default logger.
func (c Context) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// GDBName is the container name for dataset in the context year, e.g. tl2020.gdb.
func (c Context) GDBName(d Dataset) string {
	return fmt.Sprintf("%s%d.gdb", d, c.Year)
}

// GDBPath is the container path under the project root.
func (c Context) GDBPath(d Dataset) string {
	return filepath.Join(c.Root, "gdb", c.GDBName(d))
}

// FeatureClass is the path of a feature class named by its canonical code.
func (c Context) FeatureClass(d Dataset, code string) string {
	return filepath.Join(c.GDBPath(d), code)
}

// CodebookDir holds per-year codebook documents.
func (c Context) CodebookDir() string {
	return filepath.Join(c.Root, "codebooks")
}

// CatalogPath is the crawled catalog document.
func (c Context) CatalogPath() string {
	return filepath.Join(c.Root, "catalog", "catalog.json")
}

// LabeledPath is the document produced by labeled-layer discovery.
func (c Context) LabeledPath() string {
	return filepath.Join(c.Root, "catalog", "labeled.json")
}

// SourceDir is the folder scanned for downloaded source files of dataset.
func (c Context) SourceDir(d Dataset) string {
	return filepath.Join(c.Root, "sources", fmt.Sprintf("%s%d", d, c.Year))
}

// VariablesPath is the exported longitudinal variable table.
func (c Context) VariablesPath() string {
	return filepath.Join(c.Root, "codebooks", "acs_variables.json")
}

// WorkspacePath is the snapshot file of the in-memory GIS workspace.
func (c Context) WorkspacePath() string {
	return filepath.Join(c.Root, "gdb", "workspace.json")
}

// CountyFIPS is the 5-digit state+county code.
func (c Context) CountyFIPS() string { return c.State + c.County }
