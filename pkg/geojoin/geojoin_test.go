package geojoin

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"testing/quick"

	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tractID(i int) string { return fmt.Sprintf("06059%06d", 100+i) }

func geometryTable(n int) *gis.Table {
	t := &gis.Table{Name: "CT", IDField: "GEOID", Fields: []string{"GEOID", "NAMELSAD"}}
	for i := 0; i < n; i++ {
		t.Records = append(t.Records, gis.Record{"GEOID": tractID(i), "NAMELSAD": fmt.Sprintf("Census Tract %d", i)})
	}
	return t
}

func statsTable(ids []string) *gis.Table {
	t := &gis.Table{Name: "acs_tract", IDField: "GEO_ID", Fields: []string{"GEO_ID", "B01001_001E", "NAMELSAD"}}
	for i, id := range ids {
		t.Records = append(t.Records, gis.Record{"GEO_ID": "1400000US" + id, "B01001_001E": fmt.Sprint(1000 + i), "NAMELSAD": "ignored"})
	}
	return t
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "06059001101", StripPrefix("1400000US06059001101"))
	assert.Equal(t, "06", StripPrefix("0400000US06"))
	assert.Equal(t, "06059001101", StripPrefix("06059001101"))
	assert.Equal(t, "", StripPrefix(""))
}

func TestStripPrefixRoundTrip(t *testing.T) {
	gen := func(r *rand.Rand) string {
		var b strings.Builder
		for i, n := 0, 2+r.Intn(14); i < n; i++ {
			b.WriteByte(byte('0' + r.Intn(10)))
		}
		return b.String()
	}
	levels := []string{"0400000", "0500000", "1400000", "1500000", "8600000", "5000000"}
	check := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		fips := gen(r)
		return StripPrefix(levels[r.Intn(len(levels))]+"US"+fips) == fips
	}
	require.NoError(t, quick.Check(check, &quick.Config{MaxCount: 500}))
}

func TestJoinMismatchedCounts(t *testing.T) {
	geom := geometryTable(100)
	var ids []string
	for i := 0; i < 100; i++ {
		if i == 17 || i == 63 {
			continue
		}
		ids = append(ids, tractID(i))
	}

	res, err := Join(geom, statsTable(ids), geography.Tract, Options{Denylist: &geography.Denylist{}})
	require.NoError(t, err)
	require.Len(t, res.Table.Records, 100)

	nulls := 0
	for _, r := range res.Table.Records {
		if r["B01001_001E"] == nil {
			nulls++
		}
	}
	assert.Equal(t, 2, nulls)

	d := res.Diagnostics
	assert.True(t, d.CountsDiffer())
	assert.Equal(t, 98, d.Matched)
	assert.Equal(t, []string{tractID(17), tractID(63)}, d.UnmatchedGeometry)
	assert.Empty(t, d.UnmatchedStats)
	assert.Contains(t, d.Discrepancy(), "geometry has 100 records, statistics has 98")
	assert.Equal(t, []string{"NAMELSAD"}, d.SkippedFields)
	assert.Equal(t, "Census Tract 0", res.Table.Records[0]["NAMELSAD"])
	assert.Equal(t, []string{"GEOID", "NAMELSAD", "B01001_001E"}, res.Table.Fields)
}

func TestJoinMoreStatistics(t *testing.T) {
	ids := []string{tractID(0), tractID(1), tractID(2), "06059999999"}
	res, err := Join(geometryTable(3), statsTable(ids), geography.Tract, Options{Denylist: &geography.Denylist{}})
	require.NoError(t, err)
	assert.Len(t, res.Table.Records, 3)
	assert.Equal(t, []string{"06059999999"}, res.Diagnostics.UnmatchedStats)
	assert.True(t, strings.HasPrefix(res.Diagnostics.Discrepancy(), "statistics has 4 records"))
}

func TestJoinRowCountInvariant(t *testing.T) {
	check := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		n := r.Intn(60)
		var ids []string
		for i := 0; i < n+20; i++ {
			if r.Intn(3) > 0 {
				ids = append(ids, tractID(i))
			}
		}
		res, err := Join(geometryTable(n), statsTable(ids), geography.Tract, Options{Denylist: &geography.Denylist{}})
		return err == nil && len(res.Table.Records) == n &&
			res.Diagnostics.Matched+len(res.Diagnostics.UnmatchedGeometry) == n
	}
	require.NoError(t, quick.Check(check, &quick.Config{MaxCount: 200}))
}

func TestJoinDenylist(t *testing.T) {
	geom := geometryTable(2)
	geom.Records = append(geom.Records, gis.Record{"GEOID": "06059990100", "NAMELSAD": "Water"})
	stats := statsTable([]string{tractID(0), tractID(1), "06059990100"})

	res, err := Join(geom, stats, geography.Tract, Options{State: "06", County: "059"})
	require.NoError(t, err)
	assert.Len(t, res.Table.Records, 2)
	assert.Equal(t, 2, res.Diagnostics.Denied)
	assert.False(t, res.Diagnostics.CountsDiffer())
	assert.Empty(t, res.Diagnostics.Discrepancy())
}

func TestJoinStatewideDenylist(t *testing.T) {
	geom := geometryTable(2)
	geom.Records = append(geom.Records, gis.Record{"GEOID": "06037990000", "NAMELSAD": "Water"})
	stats := statsTable([]string{tractID(0), tractID(1), "06037990000", "06059990100"})

	res, err := Join(geom, stats, geography.Tract, Options{State: "06"})
	require.NoError(t, err)
	assert.Len(t, res.Table.Records, 2)
	assert.Equal(t, 3, res.Diagnostics.Denied)
	assert.Empty(t, res.Diagnostics.Discrepancy())
}

func TestJoinDuplicates(t *testing.T) {
	stats := statsTable([]string{tractID(0), tractID(1), tractID(0)})
	res, err := Join(geometryTable(2), stats, geography.Tract, Options{Denylist: &geography.Denylist{}})
	require.NoError(t, err)
	assert.Equal(t, []string{tractID(0)}, res.Diagnostics.DuplicateStats)
	assert.Equal(t, "1000", res.Table.Records[0]["B01001_001E"], "first statistics row wins")

	geom := geometryTable(2)
	geom.Records = append(geom.Records, gis.Record{"GEOID": tractID(1)})
	_, err = Join(geom, stats, geography.Tract, Options{Denylist: &geography.Denylist{}})
	assert.ErrorIs(t, err, ErrDuplicateGeometry)
}

func TestJoinValidation(t *testing.T) {
	_, err := Join(geometryTable(1), statsTable(nil), "msa", Options{})
	assert.ErrorIs(t, err, geography.ErrUnsupported)

	_, err = Join(geometryTable(1), statsTable(nil), geography.Tract, Options{GeometryID: "TRACTCE"})
	assert.ErrorContains(t, err, "TRACTCE")

	bad := statsTable(nil)
	bad.IDField = ""
	_, err = Join(geometryTable(1), bad, geography.Tract, Options{})
	assert.Error(t, err)
}
