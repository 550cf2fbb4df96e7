// Package codebook holds the per-year codebook: the typed mapping from
// canonical two-letter codes to everything needed to produce and annotate a
// feature class or table.
package codebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/hazyhaar/censusgdb/pkg/catalog"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// ErrInvalid is wrapped by every schema validation failure.
var ErrInvalid = errors.New("invalid codebook")

// Method selects the materializer strategy for a feature layer.
type Method string

const (
	Copy   Method = "copy"
	Clip   Method = "clip"
	Within Method = "within"
	Query  Method = "query"
)

// Methods lists every method in a fixed order.
func Methods() []Method { return []Method{Copy, Clip, Within, Query} }

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	for _, x := range Methods() {
		if m == x {
			return true
		}
	}
	return false
}

// MethodFor maps a crawled join method to its materializer method.
func MethodFor(j catalog.JoinMethod) Method {
	switch j {
	case catalog.Query:
		return Query
	case catalog.SpatialWithinDistance:
		return Within
	default:
		return Clip
	}
}

// Kind tags the two entry variants in JSON.
type Kind string

const (
	KindFeatureLayer Kind = "feature_layer"
	KindTable        Kind = "table"
)

// Scale is the spatial extent of a source, inferred from its FIPS segment.
type Scale string

const (
	National Scale = "national"
	State    Scale = "state"
	County   Scale = "county"
)

// Common holds the fields shared by every entry.
type Common struct {
	Code        string `json:"code"`
	Alias       string `json:"alias"`
	Group       string `json:"group"`
	Category    string `json:"category"`
	SourceFile  string `json:"source_file"`
	GDBName     string `json:"gdb_name"`
	Title       string `json:"title"`
	Tags        string `json:"tags"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Credits     string `json:"credits"`
	AccessText  string `json:"access_text"`
	Scale       Scale  `json:"scale,omitempty"`
	Postfix     string `json:"postfix,omitempty"`
}

// Metadata converts the descriptive fields to a GIS metadata record.
func (c *Common) Metadata() gis.Metadata {
	return gis.Metadata{
		Title:             c.Title,
		Tags:              c.Tags,
		Summary:           c.Summary,
		Description:       c.Description,
		Credits:           c.Credits,
		AccessConstraints: c.AccessText,
	}
}

// Entry is either a *FeatureLayerEntry or a *TableEntry.
type Entry interface {
	Kind() Kind
	Base() *Common
}

// FeatureLayerEntry describes a geometry-bearing layer.
type FeatureLayerEntry struct {
	Common
	Method       Method           `json:"method"`
	GeometryType gis.GeometryType `json:"geometry_type"`
	LayerID      int              `json:"layer_id,omitempty"`
}

func (e *FeatureLayerEntry) Kind() Kind    { return KindFeatureLayer }
func (e *FeatureLayerEntry) Base() *Common { return &e.Common }

func (e *FeatureLayerEntry) MarshalJSON() ([]byte, error) {
	type plain FeatureLayerEntry
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		*plain
	}{KindFeatureLayer, (*plain)(e)})
}

// TableEntry describes an attribute-only table.
type TableEntry struct {
	Common
}

func (e *TableEntry) Kind() Kind    { return KindTable }
func (e *TableEntry) Base() *Common { return &e.Common }

func (e *TableEntry) MarshalJSON() ([]byte, error) {
	type plain TableEntry
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		*plain
	}{KindTable, (*plain)(e)})
}

// Codebook is one year's set of entries keyed by code.
type Codebook struct {
	Year    int
	Dataset project.Dataset
	Entries map[string]Entry
}

// New returns an empty codebook.
func New(year int, d project.Dataset) *Codebook {
	return &Codebook{Year: year, Dataset: d, Entries: make(map[string]Entry)}
}

// Codes returns the entry codes in ascending order.
func (c *Codebook) Codes() []string {
	codes := make([]string, 0, len(c.Entries))
	for code := range c.Entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Get returns the entry for code.
func (c *Codebook) Get(code string) (Entry, bool) {
	e, ok := c.Entries[code]
	return e, ok
}

// FeatureLayers returns the feature layer entries ordered by code.
func (c *Codebook) FeatureLayers() []*FeatureLayerEntry {
	var out []*FeatureLayerEntry
	for _, code := range c.Codes() {
		if fl, ok := c.Entries[code].(*FeatureLayerEntry); ok {
			out = append(out, fl)
		}
	}
	return out
}

// Tables returns the table entries ordered by code.
func (c *Codebook) Tables() []*TableEntry {
	var out []*TableEntry
	for _, code := range c.Codes() {
		if t, ok := c.Entries[code].(*TableEntry); ok {
			out = append(out, t)
		}
	}
	return out
}

var codePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Validate checks codes, keys and per-kind invariants.
func (c *Codebook) Validate() error {
	if c.Year <= 0 {
		return fmt.Errorf("%w: year %d", ErrInvalid, c.Year)
	}
	for key, e := range c.Entries {
		if e == nil {
			return fmt.Errorf("%w: entry %q is null", ErrInvalid, key)
		}
		b := e.Base()
		if !codePattern.MatchString(b.Code) {
			return fmt.Errorf("%w: code %q must be two uppercase letters", ErrInvalid, b.Code)
		}
		if key != b.Code {
			return fmt.Errorf("%w: entry key %q does not match code %q", ErrInvalid, key, b.Code)
		}
		if fl, ok := e.(*FeatureLayerEntry); ok {
			if !fl.Method.Valid() {
				return fmt.Errorf("%w: %s: unknown method %q", ErrInvalid, b.Code, fl.Method)
			}
			if !fl.GeometryType.Valid() {
				return fmt.Errorf("%w: %s: unknown geometry type %q", ErrInvalid, b.Code, fl.GeometryType)
			}
		}
	}
	return nil
}

type document struct {
	Year    int                        `json:"year"`
	Dataset project.Dataset            `json:"dataset"`
	Entries map[string]json.RawMessage `json:"entries"`
}

func (c *Codebook) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Year    int              `json:"year"`
		Dataset project.Dataset  `json:"dataset"`
		Entries map[string]Entry `json:"entries"`
	}{c.Year, c.Dataset, c.Entries})
}

func (c *Codebook) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.Year = doc.Year
	c.Dataset = doc.Dataset
	c.Entries = make(map[string]Entry, len(doc.Entries))
	for key, raw := range doc.Entries {
		var head struct {
			Kind Kind `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		var e Entry
		switch head.Kind {
		case KindFeatureLayer:
			e = &FeatureLayerEntry{}
		case KindTable:
			e = &TableEntry{}
		default:
			return fmt.Errorf("%w: entry %q has unknown kind %q", ErrInvalid, key, head.Kind)
		}
		if err := json.Unmarshal(raw, e); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		c.Entries[key] = e
	}
	return nil
}
