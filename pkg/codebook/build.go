package codebook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/catalog"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// Report lists the inputs a build could not place.
type Report struct {
	Unmatched  []string `json:"unmatched"`
	Duplicates []string `json:"duplicates"`
}

// Empty reports whether every input was placed.
func (r Report) Empty() bool { return len(r.Unmatched) == 0 && len(r.Duplicates) == 0 }

// SourceName is a parsed TIGER/Line file name tl_<year>_<fips>_<layer>.<ext>.
type SourceName struct {
	Stem  string
	Year  int
	FIPS  string
	Layer string
	Ext   string
	Scale Scale
}

var tigerName = regexp.MustCompile(`^tl_(\d{4})_(us|\d{2}|\d{5})_([a-z0-9]+)\.([a-z]+)$`)

// ParseFileName parses a TIGER/Line file name.
func ParseFileName(name string) (SourceName, bool) {
	m := tigerName.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return SourceName{}, false
	}
	year, _ := strconv.Atoi(m[1])
	s := SourceName{
		Stem:  strings.TrimSuffix(strings.ToLower(name), "."+m[4]),
		Year:  year,
		FIPS:  m[2],
		Layer: m[3],
		Ext:   m[4],
	}
	switch len(m[2]) {
	case 5:
		s.Scale = County
	case 2:
		if m[2] == "us" {
			s.Scale = National
		} else {
			s.Scale = State
		}
	}
	return s, true
}

// ScanDir lists the file names in dir. A missing directory is an error.
func ScanDir(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan source folder %s: %w", dir, err)
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Build creates the codebook of year from a source folder listing. Only .shp
// and .dbf files are considered; a stem with a .shp is a feature layer, a
// stem with only a .dbf is a table.
func Build(year int, files []string, t *Templates) (*Codebook, Report) {
	cb := New(year, project.TIGER)
	var rep Report

	type stem struct {
		name   SourceName
		hasShp bool
	}
	stems := make(map[string]*stem)
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext != ".shp" && ext != ".dbf" {
			continue
		}
		sn, ok := ParseFileName(filepath.Base(f))
		if !ok || sn.Year != year {
			rep.Unmatched = append(rep.Unmatched, filepath.Base(f))
			continue
		}
		s := stems[sn.Stem]
		if s == nil {
			s = &stem{name: sn}
			stems[sn.Stem] = s
		}
		if sn.Ext == "shp" {
			s.hasShp = true
		}
	}

	keys := make([]string, 0, len(stems))
	for k := range stems {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	gdb := project.Context{Year: year}.GDBName(project.TIGER)
	for _, k := range keys {
		s := stems[k]
		tpl, postfix, ok := t.ByLayer(s.name.Layer)
		if !ok {
			rep.Unmatched = append(rep.Unmatched, k)
			continue
		}
		if _, dup := cb.Entries[tpl.Code]; dup {
			rep.Duplicates = append(rep.Duplicates, k)
			continue
		}

		common := t.common(tpl, year, postfix)
		common.GDBName = gdb
		common.Scale = s.name.Scale

		if !s.hasShp {
			common.SourceFile = k + ".dbf"
			cb.Entries[tpl.Code] = &TableEntry{Common: common}
			continue
		}
		common.SourceFile = k + ".shp"
		cb.Entries[tpl.Code] = &FeatureLayerEntry{
			Common:       common,
			Method:       fileMethod(tpl, s.name.Scale),
			GeometryType: geometryOr(tpl.Geometry, gis.Polygon),
		}
	}
	sort.Strings(rep.Unmatched)
	return cb, rep
}

// BuildFromCatalog creates the codebook of year from crawled catalog entries.
// Entries of other years are ignored.
func BuildFromCatalog(year int, entries []catalog.Entry, t *Templates) (*Codebook, Report) {
	cb := New(year, project.TIGER)
	var rep Report

	var rows []catalog.Entry
	for _, e := range entries {
		if e.Year == year {
			rows = append(rows, e)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Service != rows[j].Service {
			return rows[i].Service < rows[j].Service
		}
		return rows[i].LayerID < rows[j].LayerID
	})

	gdb := project.Context{Year: year}.GDBName(project.TIGER)
	for _, e := range rows {
		tpl, postfix, ok := t.ByCategory(e.Category)
		if !ok {
			rep.Unmatched = append(rep.Unmatched, e.Service+"/"+e.LayerName)
			continue
		}
		if _, dup := cb.Entries[tpl.Code]; dup {
			rep.Duplicates = append(rep.Duplicates, e.Service+"/"+e.LayerName)
			continue
		}
		common := t.common(tpl, year, postfix)
		common.GDBName = gdb
		common.SourceFile = fmt.Sprintf("%s%d/%d", e.Service, e.Year, e.LayerID)

		method := tpl.Method
		if method == "" {
			method = MethodFor(e.JoinMethod)
		}
		cb.Entries[tpl.Code] = &FeatureLayerEntry{
			Common:       common,
			Method:       method,
			GeometryType: geometryOr(e.GeometryType, geometryOr(tpl.Geometry, gis.Polygon)),
			LayerID:      e.LayerID,
		}
	}
	sort.Strings(rep.Unmatched)
	return cb, rep
}

func (t *Templates) common(tpl *Template, year int, postfix string) Common {
	epoch := Epoch(postfix, year)
	credits := tpl.Credits
	if credits == "" {
		credits = t.Credits
	}
	access := tpl.AccessText
	if access == "" {
		access = t.AccessText
	}
	r := func(s string) string { return render(s, year, tpl.Code, postfix, epoch) }
	return Common{
		Code:        tpl.Code,
		Alias:       r(tpl.Alias),
		Group:       tpl.Group,
		Category:    tpl.Category,
		Title:       r(tpl.Title),
		Tags:        r(tpl.Tags),
		Summary:     r(tpl.Summary),
		Description: r(tpl.Description),
		Credits:     r(credits),
		AccessText:  r(access),
		Postfix:     postfix,
	}
}

// fileMethod picks the method for a downloaded file: the template's method,
// else a straight copy for county files and a clip for wider extents.
func fileMethod(tpl *Template, scale Scale) Method {
	if tpl.Method != "" {
		return tpl.Method
	}
	if scale == County {
		return Copy
	}
	return Clip
}

func geometryOr(g, fallback gis.GeometryType) gis.GeometryType {
	if g.Valid() {
		return g
	}
	return fallback
}
