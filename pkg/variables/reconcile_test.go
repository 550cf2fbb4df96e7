package variables

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(year int, labels map[string]string) Listing {
	vars := make(map[string]Variable, len(labels))
	for name, label := range labels {
		vars[name] = Variable{Name: name, Label: label, Concept: "SEX BY AGE", Type: "int"}
	}
	return Listing{Year: year, Variables: vars}
}

func TestReconcileLabelCollision(t *testing.T) {
	mt := Reconcile(
		listing(2015, map[string]string{"B01001_001E": "Total Population Count"}),
		listing(2010, map[string]string{"B01001_001E": "Total population"}),
	)

	rows := mt.Rows("B01001_001E")
	require.Len(t, rows, 2)
	assert.Equal(t, "Total population", rows[0].Label)
	assert.Equal(t, []int{2010}, rows[0].Years)
	assert.Empty(t, rows[0].Note)
	assert.Equal(t, "Total Population Count", rows[1].Label)
	assert.Equal(t, []int{2015}, rows[1].Years)
	assert.Equal(t, NoteLabelChanged, rows[1].Note)
	assert.False(t, rows[0].AllYears)
}

func TestReconcileIdentity(t *testing.T) {
	mt := Reconcile(
		listing(2019, map[string]string{"B01001_001E": "Estimate!!Total:"}),
		listing(2020, map[string]string{"B01001_001E": "Estimate!!Total:"}),
		listing(2021, map[string]string{"B01001_001E": "Estimate!!Total"}),
	)

	rows := mt.Rows("B01001_001E")
	require.Len(t, rows, 2, "trailing colon is part of the cleaned label")
	assert.Equal(t, []int{2019, 2020}, rows[0].Years)
	assert.Equal(t, 2, rows[0].CountYears)
	assert.Equal(t, map[string]bool{"2019": true, "2020": true, "2021": false}, rows[0].Presence)
	assert.Equal(t, "Total:", rows[0].Alias)
	assert.Equal(t, "B01", rows[0].Table)
	assert.Equal(t, "B01001", rows[0].Group)
}

func TestReconcileNoRetroactiveMerge(t *testing.T) {
	mt := Reconcile(
		listing(2010, map[string]string{"B19013_001E": "Median household income"}),
		listing(2011, map[string]string{"B19013_001E": "Median household income (dollars)"}),
		listing(2012, map[string]string{"B19013_001E": "Median household income"}),
	)

	rows := mt.Rows("B19013_001E")
	require.Len(t, rows, 2)
	assert.Equal(t, []int{2010, 2012}, rows[0].Years)
	assert.Equal(t, []int{2011}, rows[1].Years)
	assert.Equal(t, NoteLabelChanged, rows[1].Note)
}

func TestReconcileFiltersAndEmptyLabels(t *testing.T) {
	mt := Reconcile(
		listing(2020, map[string]string{
			"B01001_001E":  "",
			"B01001_001M":  "Margin of Error!!Total",
			"B01001_001EA": "Annotation",
			"GEO_ID":       "Geography",
		}),
		listing(2021, map[string]string{"B01001_001E": "Total"}),
	)

	require.Len(t, mt.Records, 2)
	rows := mt.Rows("B01001_001E")
	assert.Equal(t, "", rows[0].Label)
	assert.Equal(t, "Total", rows[1].Label)
	assert.Equal(t, NoteLabelChanged, rows[1].Note)
}

func TestReconcileAllYears(t *testing.T) {
	mt := Reconcile(
		listing(2020, map[string]string{"B01001_001E": "Total", "B01001_002E": "Male"}),
		listing(2021, map[string]string{"B01001_001E": "Total"}),
	)
	assert.Equal(t, []int{2020, 2021}, mt.Years)
	assert.True(t, mt.Rows("B01001_001E")[0].AllYears)
	assert.False(t, mt.Rows("B01001_002E")[0].AllYears)
	assert.Equal(t, 1, mt.Rows("B01001_002E")[0].CountYears)

	assert.Len(t, mt.ForYear(2021), 1)
	assert.Len(t, mt.ForYear(2020), 2)
}

func TestReconcileSorted(t *testing.T) {
	mt := Reconcile(
		listing(2020, map[string]string{"C17002_001E": "Total", "B01001_002E": "Male", "B01001_001E": "Total"}),
	)
	var names []string
	for _, r := range mt.Records {
		names = append(names, r.Variable)
	}
	assert.Equal(t, []string{"B01001_001E", "B01001_002E", "C17002_001E"}, names)
}

type fakeSource struct {
	listings map[int]Listing
	calls    []int
}

func (f *fakeSource) FetchVariables(_ context.Context, year int) (Listing, error) {
	f.calls = append(f.calls, year)
	l, ok := f.listings[year]
	if !ok {
		return Listing{}, fmt.Errorf("HTTP 404 for year %d", year)
	}
	return l, nil
}

func TestReconcilerSkipsFailedYears(t *testing.T) {
	src := &fakeSource{listings: map[int]Listing{
		2019: listing(0, map[string]string{"B01001_001E": "Total"}),
		2021: listing(0, map[string]string{"B01001_001E": "Total"}),
	}}

	mt, err := NewReconciler(src, nil).Build(context.Background(), []int{2021, 2020, 2019})
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2020, 2021}, src.calls)
	assert.Equal(t, []int{2019, 2021}, mt.Years)
	assert.Equal(t, []int{2020}, mt.Missing)

	row := mt.Rows("B01001_001E")[0]
	assert.True(t, row.AllYears, "all_years counts only folded years")
	assert.Equal(t, 2, row.CountYears)
}

func TestReconcilerAllYearsFail(t *testing.T) {
	_, err := NewReconciler(&fakeSource{}, nil).Build(context.Background(), []int{2020})
	assert.True(t, errors.Is(err, ErrNoYears))
}

func TestParseListing(t *testing.T) {
	doc := `{"variables":{
		"B01001_001E":{"label":"Estimate!!Total:","concept":"SEX BY AGE","predicateType":"int","group":"B01001"},
		"B01001_001M":{"label":"Margin of Error!!Total:","predicateType":"int","group":"B01001"},
		"for":{"label":"Census API FIPS 'for' clause","predicateType":"fips-for","group":"N/A"},
		"B99999_001E":{"label":null,"group":"B99999"}
	}}`
	l, err := ParseListing(2020, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2020, l.Year)
	assert.Len(t, l.Variables, 4)
	assert.Equal(t, "B01001_001E", l.Variables["B01001_001E"].Name)
	assert.Equal(t, "", l.Variables["B99999_001E"].Label)

	_, err = ParseListing(2020, strings.NewReader(`{"fields":{}}`))
	assert.Error(t, err)
	_, err = ParseListing(2020, strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	mt := Reconcile(listing(2020, map[string]string{"B01001_001E": "Total"}))
	path := filepath.Join(t.TempDir(), "codebooks", "acs_variables.json")
	require.NoError(t, mt.ExportJSON(path))

	got, err := LoadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, mt, got)
}

func TestStore(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "census.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrEmpty)

	mt := Reconcile(
		listing(2010, map[string]string{"B01001_001E": "Total population", "B19013_001E": "Median household income"}),
		listing(2015, map[string]string{"B01001_001E": "Total Population Count", "B19013_001E": "Median household income"}),
	)
	mt.Missing = []int{2012}

	runID, err := s.Save(mt)
	require.NoError(t, err)
	assert.Len(t, runID, 36)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, mt, got)

	rows, err := s.Lookup("B01001_001E")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, NoteLabelChanged, rows[1].Note)

	hits, err := s.Search("household", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "B19013_001E", hits[0].Variable)
	assert.Equal(t, []int{2010, 2015}, hits[0].Years)

	hits, err = s.Search("%", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A second save replaces the table and records a new run.
	second, err := s.Save(Reconcile(listing(2020, map[string]string{"B01001_001E": "Total"})))
	require.NoError(t, err)
	assert.NotEqual(t, runID, second)
	run, err := s.LastRun()
	require.NoError(t, err)
	assert.Equal(t, second, run.ID)
	assert.Equal(t, 1, run.Records)

	got, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, got.Records, 1)
}
