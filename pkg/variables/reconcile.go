package variables

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
)

// NoteLabelChanged marks a row forked from an existing variable because its
// cleaned label differs.
const NoteLabelChanged = "same variable, different label"

// Variable is one raw listing entry.
type Variable struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Concept string `json:"concept"`
	Type    string `json:"predicateType"`
	Group   string `json:"group"`
}

// Listing is the raw variable listing of one year.
type Listing struct {
	Year      int
	Variables map[string]Variable
}

// Record is one row of the longitudinal table. A variable may own several
// rows, one per distinct cleaned label.
type Record struct {
	Variable   string          `json:"variable"`
	Label      string          `json:"label"`
	Alias      string          `json:"alias"`
	Table      string          `json:"table"`
	Group      string          `json:"group"`
	Concept    string          `json:"concept,omitempty"`
	Type       string          `json:"type,omitempty"`
	Years      []int           `json:"years"`
	CountYears int             `json:"count_years"`
	AllYears   bool            `json:"all_years"`
	Presence   map[string]bool `json:"presence"`
	Note       string          `json:"note,omitempty"`
}

// Has reports whether the record was seen in year.
func (r *Record) Has(year int) bool {
	i := sort.SearchInts(r.Years, year)
	return i < len(r.Years) && r.Years[i] == year
}

func (r *Record) addYear(year int) {
	i := sort.SearchInts(r.Years, year)
	if i < len(r.Years) && r.Years[i] == year {
		return
	}
	r.Years = append(r.Years, 0)
	copy(r.Years[i+1:], r.Years[i:])
	r.Years[i] = year
}

// MasterTable is the reconciled result. Years holds the years actually
// folded; Missing the requested years whose listing could not be obtained.
type MasterTable struct {
	Years   []int     `json:"years"`
	Missing []int     `json:"missing,omitempty"`
	Records []*Record `json:"records"`
}

// Reconcile folds listings in ascending year order. A variable whose cleaned
// label matches one of its existing rows adds the year to that row; any other
// label opens a new row carrying NoteLabelChanged. Rows are never merged.
func Reconcile(listings ...Listing) *MasterTable {
	sorted := append([]Listing(nil), listings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })

	mt := &MasterTable{}
	byName := make(map[string][]*Record)

	for _, l := range sorted {
		if n := len(mt.Years); n == 0 || mt.Years[n-1] != l.Year {
			mt.Years = append(mt.Years, l.Year)
		}

		names := make([]string, 0, len(l.Variables))
		for name := range l.Variables {
			if IsEstimate(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			v := l.Variables[name]
			label := CleanLabel(v.Label)

			variants := byName[name]
			var match *Record
			for _, r := range variants {
				if r.Label == label {
					match = r
					break
				}
			}
			if match != nil {
				match.addYear(l.Year)
				continue
			}

			rec := newRecord(name, label, v)
			rec.Years = []int{l.Year}
			if len(variants) > 0 {
				rec.Note = NoteLabelChanged
			}
			byName[name] = append(variants, rec)
			mt.Records = append(mt.Records, rec)
		}
	}

	mt.derive()
	return mt
}

func newRecord(name, label string, v Variable) *Record {
	group := name
	if i := strings.IndexByte(name, '_'); i >= 0 {
		group = name[:i]
	}
	table := name
	if len(table) > 3 {
		table = table[:3]
	}
	return &Record{
		Variable: name,
		Label:    label,
		Alias:    Alias(label),
		Table:    table,
		Group:    group,
		Concept:  v.Concept,
		Type:     v.Type,
	}
}

// derive computes the year columns and sorts the rows by variable, then first
// year, then label.
func (mt *MasterTable) derive() {
	for _, r := range mt.Records {
		r.CountYears = len(r.Years)
		r.AllYears = len(mt.Years) > 0 && r.CountYears == len(mt.Years)
	}
	mt.presence()
	sort.SliceStable(mt.Records, func(i, j int) bool {
		a, b := mt.Records[i], mt.Records[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		if a.Years[0] != b.Years[0] {
			return a.Years[0] < b.Years[0]
		}
		return a.Label < b.Label
	})
}

func (mt *MasterTable) presence() {
	for _, r := range mt.Records {
		r.Presence = make(map[string]bool, len(mt.Years))
		for _, y := range mt.Years {
			r.Presence[strconv.Itoa(y)] = r.Has(y)
		}
	}
}

// Rows returns every row of variable in table order.
func (mt *MasterTable) Rows(variable string) []*Record {
	var out []*Record
	for _, r := range mt.Records {
		if r.Variable == variable {
			out = append(out, r)
		}
	}
	return out
}

// ForYear returns, per variable, the row that was present in year.
func (mt *MasterTable) ForYear(year int) map[string]*Record {
	out := make(map[string]*Record)
	for _, r := range mt.Records {
		if r.Has(year) {
			out[r.Variable] = r
		}
	}
	return out
}

// ExportJSON writes the table as a pretty-printed document.
func (mt *MasterTable) ExportJSON(path string) error {
	return docstore.WriteAtomic(path, mt)
}

// LoadJSON reads a table written by ExportJSON.
func LoadJSON(path string) (*MasterTable, error) {
	var mt MasterTable
	if err := docstore.Read(path, &mt); err != nil {
		return nil, err
	}
	return &mt, nil
}
