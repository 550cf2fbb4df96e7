// Package catalog crawls an ArcGIS REST service tree (TIGERweb) and keeps a
// normalized inventory of its year-stamped layer groups.
package catalog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// JoinMethod tells the materializer how a layer can be restricted to the area
// of interest, derived from the layer's fields.
type JoinMethod string

const (
	// Query: both state and county FIPS fields exist, filter by attribute.
	Query JoinMethod = "Query"
	// SpatialWithinDistance: only a state field exists.
	SpatialWithinDistance JoinMethod = "SpatialWithinDistance"
	// SpatialOnly: neither field exists.
	SpatialOnly JoinMethod = "SpatialOnly"
)

// ClassifyFields derives the join method from field presence.
func ClassifyFields(fields []string) JoinMethod {
	var hasState, hasCounty bool
	for _, f := range fields {
		u := strings.ToUpper(f)
		switch {
		case u == "STATE" || strings.HasPrefix(u, "STATEFP"):
			hasState = true
		case u == "COUNTY" || strings.HasPrefix(u, "COUNTYFP"):
			hasCounty = true
		}
	}
	switch {
	case hasState && hasCounty:
		return Query
	case hasState:
		return SpatialWithinDistance
	default:
		return SpatialOnly
	}
}

// Layer is one retained feature layer of a service.
type Layer struct {
	ID           int              `json:"id"`
	Name         string           `json:"name"`
	GeometryType gis.GeometryType `json:"geometry_type"`
	Fields       []string         `json:"fields"`
	JoinMethod   JoinMethod       `json:"join_method"`
}

// Service is the crawled metadata of one map service.
type Service struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	URL         string            `json:"url"`
	Year        int               `json:"year,omitempty"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	WKID        int               `json:"wkid"`
	Layers      map[string]*Layer `json:"layers"`
}

// Catalog is the crawl result. Series maps a service prefix to its
// year-stamped services keyed by year; Standalone holds services without a
// trailing year.
type Catalog struct {
	BaseURL    string                         `json:"base_url"`
	Series     map[string]map[string]*Service `json:"series"`
	Standalone map[string]*Service            `json:"standalone"`
}

// New returns an empty catalog for baseURL.
func New(baseURL string) *Catalog {
	return &Catalog{
		BaseURL:    baseURL,
		Series:     make(map[string]map[string]*Service),
		Standalone: make(map[string]*Service),
	}
}

var trailingYear = regexp.MustCompile(`^(.*?)[\s_-]*(\d{4})$`)

// SplitYear separates a trailing 4-digit year from name.
func SplitYear(name string) (prefix string, year int, ok bool) {
	m := trailingYear.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil || m[1] == "" {
		return name, 0, false
	}
	y, _ := strconv.Atoi(m[2])
	return m[1], y, true
}

// Add files svc under its series or as standalone.
func (c *Catalog) Add(svc *Service) {
	base := svc.Name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	prefix, year, ok := SplitYear(base)
	if !ok {
		c.Standalone[base] = svc
		return
	}
	svc.Year = year
	if c.Series[prefix] == nil {
		c.Series[prefix] = make(map[string]*Service)
	}
	c.Series[prefix][strconv.Itoa(year)] = svc
}

// Entry is a flattened catalog row.
type Entry struct {
	Service      string           `json:"service"`
	Year         int              `json:"year"`
	Category     string           `json:"category"`
	LayerName    string           `json:"layer_name"`
	LayerID      int              `json:"layer_id"`
	GeometryType gis.GeometryType `json:"geometry_type"`
	Fields       []string         `json:"fields"`
	JoinMethod   JoinMethod       `json:"join_method"`
}

// Entries flattens the series into rows sorted by service, year and layer id.
func (c *Catalog) Entries() []Entry {
	var out []Entry
	for prefix, years := range c.Series {
		for _, svc := range years {
			for _, l := range svc.Layers {
				category, _, ok := SplitYear(l.Name)
				if !ok {
					category = l.Name
				}
				out = append(out, Entry{
					Service:      prefix,
					Year:         svc.Year,
					Category:     strings.TrimSpace(category),
					LayerName:    l.Name,
					LayerID:      l.ID,
					GeometryType: l.GeometryType,
					Fields:       l.Fields,
					JoinMethod:   l.JoinMethod,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.LayerID < b.LayerID
	})
	return out
}

// EntriesForYear filters Entries to one year.
func (c *Catalog) EntriesForYear(year int) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Year == year {
			out = append(out, e)
		}
	}
	return out
}

// Save writes the catalog document atomically.
func (c *Catalog) Save(path string) error {
	return docstore.WriteAtomic(path, c)
}

// Load reads a catalog document. A missing document is an error.
func Load(path string) (*Catalog, error) {
	c := New("")
	if err := docstore.Read(path, c); err != nil {
		return nil, err
	}
	return c, nil
}
