// Package geography maps the supported geography codes to Census API request
// clauses and holds the identifiers removed before joins.
package geography

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupported is returned for a geography code without a request shape.
var ErrUnsupported = errors.New("unsupported geography")

// Code names a geography level.
type Code string

const (
	County     Code = "county"
	CountySub  Code = "cousub"
	Tract      Code = "tract"
	BlockGroup Code = "bg"
	Place      Code = "place"
	CongDist   Code = "cd"
	ZCTA       Code = "zcta"
	SLDU       Code = "sldu"
	SLDL       Code = "sldl"
	UnifiedSD  Code = "unsd"
	ElemSD     Code = "elsd"
	SecondSD   Code = "scsd"
	UrbanArea  Code = "uac"
	PUMA       Code = "puma"
)

// Shape is the request clause pair of a geography. {state} and {county} are
// substituted from the area of interest; an empty value becomes the "*"
// wildcard.
type Shape struct {
	For string
	In  string
	// FeatureCode is the codebook code of the matching geometry layer.
	FeatureCode string
}

var shapes = map[Code]Shape{
	County:     {For: "county:{county}", In: "state:{state}", FeatureCode: "CO"},
	CountySub:  {For: "county subdivision:*", In: "state:{state} county:{county}", FeatureCode: "CS"},
	Tract:      {For: "tract:*", In: "state:{state} county:{county}", FeatureCode: "CT"},
	BlockGroup: {For: "block group:*", In: "state:{state} county:{county} tract:*", FeatureCode: "BG"},
	Place:      {For: "place:*", In: "state:{state}", FeatureCode: "PL"},
	CongDist:   {For: "congressional district:*", In: "state:{state}", FeatureCode: "CD"},
	ZCTA:       {For: "zip code tabulation area:*", FeatureCode: "ZC"},
	SLDU:       {For: "state legislative district (upper chamber):*", In: "state:{state}", FeatureCode: "SU"},
	SLDL:       {For: "state legislative district (lower chamber):*", In: "state:{state}", FeatureCode: "SL"},
	UnifiedSD:  {For: "school district (unified):*", In: "state:{state}", FeatureCode: "UN"},
	ElemSD:     {For: "school district (elementary):*", In: "state:{state}", FeatureCode: "EL"},
	SecondSD:   {For: "school district (secondary):*", In: "state:{state}", FeatureCode: "SC"},
	UrbanArea:  {For: "urban area:*", FeatureCode: "UA"},
	PUMA:       {For: "public use microdata area:*", In: "state:{state}", FeatureCode: "PU"},
}

// Codes lists every supported code in ascending order.
func Codes() []Code {
	out := make([]Code, 0, len(shapes))
	for c := range shapes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse validates s as a geography code.
func Parse(s string) (Code, error) {
	c := Code(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := shapes[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return c, nil
}

// Lookup returns the shape of c.
func Lookup(c Code) (Shape, error) {
	s, ok := shapes[c]
	if !ok {
		return Shape{}, fmt.Errorf("%w: %q", ErrUnsupported, c)
	}
	return s, nil
}

// Clauses returns the for and in clauses of c for the given area.
func Clauses(c Code, state, county string) (forClause, inClause string, err error) {
	s, err := Lookup(c)
	if err != nil {
		return "", "", err
	}
	r := strings.NewReplacer("{state}", wildcard(state), "{county}", wildcard(county))
	return r.Replace(s.For), r.Replace(s.In), nil
}

func wildcard(v string) string {
	if v == "" {
		return "*"
	}
	return v
}

// Denylist removes non-land identifiers from both sides of a join. An id is
// denied when it is Width characters long, starts with Prefix and ends with
// one of Suffixes. Prefix is the state and county FIPS of the area, or only
// the state for a state-wide area.
type Denylist struct {
	Prefix   string
	Width    int
	Suffixes []string
}

// Contains reports whether id is denied.
func (d *Denylist) Contains(id string) bool {
	if d == nil || len(id) != d.Width || !strings.HasPrefix(id, d.Prefix) {
		return false
	}
	for _, s := range d.Suffixes {
		if strings.HasSuffix(id, s) {
			return true
		}
	}
	return false
}

// waterTracts are the tract codes reserved for water-only areas.
var waterTracts = []string{"990000", "990100", "990200", "990300", "990400", "990500", "990600", "990700", "990800", "990900"}

// DefaultDenylist returns the known non-land identifiers of c for the given
// state and county. Geographies without a list return an empty denylist.
func DefaultDenylist(c Code, state, county string) *Denylist {
	d := &Denylist{Prefix: state + county}
	switch c {
	case Tract:
		d.Width = 11
		d.Suffixes = append(d.Suffixes, waterTracts...)
	case BlockGroup:
		d.Width = 12
		for _, t := range waterTracts {
			d.Suffixes = append(d.Suffixes, t+"0")
		}
	case CountySub:
		// County subdivision 00000 is the "not defined" placeholder.
		d.Width = 10
		d.Suffixes = []string{"00000"}
	}
	return d
}
