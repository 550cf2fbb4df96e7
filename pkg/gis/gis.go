// Package gis defines the boundary between the pipeline and the external GIS
// engine. The pipeline only calls the operations declared here; geometry
// algorithms, coordinate transforms and geodatabase I/O belong to the engine.
package gis

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a source, layer or table does not exist.
var ErrNotFound = errors.New("gis: not found")

// SpatialRef identifies a coordinate reference system by its well-known id.
// Two references are the same only if their WKIDs are equal.
type SpatialRef struct {
	WKID int `json:"wkid" yaml:"wkid"`
}

// Equal reports exact reference-system identity.
func (s SpatialRef) Equal(o SpatialRef) bool { return s.WKID == o.WKID }

func (s SpatialRef) String() string { return fmt.Sprintf("EPSG:%d", s.WKID) }

// GeometryType is the shape family of a feature class.
type GeometryType string

const (
	Point   GeometryType = "Point"
	Line    GeometryType = "Line"
	Polygon GeometryType = "Polygon"
)

// Valid reports whether g is one of the known geometry types.
func (g GeometryType) Valid() bool {
	switch g {
	case Point, Line, Polygon:
		return true
	}
	return false
}

// Envelope is an axis-aligned bounding box.
type Envelope struct {
	MinX float64 `json:"xmin"`
	MinY float64 `json:"ymin"`
	MaxX float64 `json:"xmax"`
	MaxY float64 `json:"ymax"`
}

// Empty reports whether the envelope has no area and no extent.
func (e Envelope) Empty() bool { return e.MaxX < e.MinX || e.MaxY < e.MinY }

// Intersects reports whether e and o overlap (touching counts).
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Intersection returns the overlapping box of e and o.
func (e Envelope) Intersection(o Envelope) Envelope {
	return Envelope{
		MinX: max(e.MinX, o.MinX),
		MinY: max(e.MinY, o.MinY),
		MaxX: min(e.MaxX, o.MaxX),
		MaxY: min(e.MaxY, o.MaxY),
	}
}

// Buffer grows e by d on every side; a negative d shrinks it.
func (e Envelope) Buffer(d float64) Envelope {
	return Envelope{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

// Feature is a single row of a feature class.
type Feature struct {
	Geometry   Envelope       `json:"geometry"`
	Attributes map[string]any `json:"attributes"`
}

// Layer is a handle to a transient selection produced by the engine.
type Layer struct {
	Name     string       `json:"name"`
	Source   string       `json:"source"`
	SR       SpatialRef   `json:"spatial_reference"`
	Geometry GeometryType `json:"geometry_type"`
}

// Metadata is the descriptive record applied to an output feature class.
type Metadata struct {
	Title             string `json:"title"`
	Tags              string `json:"tags"`
	Summary           string `json:"summary"`
	Description       string `json:"description"`
	Credits           string `json:"credits"`
	AccessConstraints string `json:"access_constraints"`
}

// Engine is the operation vocabulary the pipeline needs from a GIS engine.
// A layer passed to Project, Clip, SpatialSelect or Export is consumed and
// must not be reused.
type Engine interface {
	// MakeLayer opens source as a layer, optionally filtered by a where clause.
	MakeLayer(ctx context.Context, source, where string) (Layer, error)
	// Project reprojects layer into target.
	Project(ctx context.Context, layer Layer, target SpatialRef) (Layer, error)
	// Clip intersects layer with the reference boundary feature class.
	Clip(ctx context.Context, layer Layer, reference string) (Layer, error)
	// SpatialSelect keeps features within distance of reference.
	SpatialSelect(ctx context.Context, layer Layer, reference string, distance float64) (Layer, error)
	// Export writes layer to destination, replacing any existing table.
	Export(ctx context.Context, layer Layer, destination string) error
	RecordCount(ctx context.Context, table string) (int, error)
	Exists(ctx context.Context, table string) (bool, error)
	Delete(ctx context.Context, table string) error
	SetAlias(ctx context.Context, table, alias string) error
	SetFieldAlias(ctx context.Context, table, field, alias string) error
	ApplyMetadata(ctx context.Context, table string, md Metadata) error
}

// TableIO reads and writes attribute tables. Engines that support the
// statistics join implement it alongside Engine.
type TableIO interface {
	ReadTable(ctx context.Context, name string) (*Table, error)
	WriteTable(ctx context.Context, name string, t *Table) error
}

// Record is one attribute row. A nil value is a null.
type Record map[string]any

// Table is an attribute table keyed by IDField.
type Table struct {
	Name    string   `json:"name"`
	IDField string   `json:"id_field"`
	Fields  []string `json:"fields"`
	Records []Record `json:"records"`
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// ID returns the string form of r's identifier.
func (t *Table) ID(r Record) string {
	return AsString(r[t.IDField])
}

// HasField reports whether name is one of the table's fields.
func (t *Table) HasField(name string) bool {
	for _, f := range t.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// IDs returns every identifier in record order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.Records))
	for i, r := range t.Records {
		ids[i] = t.ID(r)
	}
	return ids
}

// SortedIDs returns the identifiers in ascending order.
func (t *Table) SortedIDs() []string {
	ids := t.IDs()
	sort.Strings(ids)
	return ids
}

// AsString formats an attribute value; nil becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
