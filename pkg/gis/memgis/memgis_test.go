package memgis

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x0, y0, x1, y1 float64) gis.Envelope {
	return gis.Envelope{MinX: x0, MinY: y0, MaxX: x1, MaxY: y1}
}

func seed(t *testing.T) *Engine {
	t.Helper()
	e := New()
	e.Put("boundary", &FeatureClass{
		Geometry: gis.Polygon,
		SR:       gis.SpatialRef{WKID: 3857},
		Features: []gis.Feature{{Geometry: box(0, 0, 10, 10), Attributes: map[string]any{"GEOID": "06059"}}},
	})
	e.Put("roads", &FeatureClass{
		Geometry: gis.Line,
		SR:       gis.SpatialRef{WKID: 4269},
		Features: []gis.Feature{
			{Geometry: box(1, 1, 2, 2), Attributes: map[string]any{"STATEFP": "06", "COUNTYFP": "059", "NAME": "inside"}},
			{Geometry: box(9, 9, 12, 12), Attributes: map[string]any{"STATEFP": "06", "COUNTYFP": "037", "NAME": "straddle"}},
			{Geometry: box(10, 0, 11, 1), Attributes: map[string]any{"STATEFP": "06", "COUNTYFP": "037", "NAME": "touching"}},
			{Geometry: box(20, 20, 21, 21), Attributes: map[string]any{"STATEFP": "04", "COUNTYFP": "013", "NAME": "outside"}},
		},
	})
	return e
}

func names(t *testing.T, e *Engine, table string) []string {
	t.Helper()
	fc, ok := e.Get(table)
	require.True(t, ok, table)
	var out []string
	for _, f := range fc.Features {
		out = append(out, f.Attributes["NAME"].(string))
	}
	return out
}

func TestMakeLayerWhere(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	lyr, err := e.MakeLayer(ctx, "roads", "STATEFP = '06' AND COUNTYFP = '059'")
	require.NoError(t, err)
	require.NoError(t, e.Export(ctx, lyr, "out"))
	assert.Equal(t, []string{"inside"}, names(t, e, "out"))

	_, err = e.MakeLayer(ctx, "roads", "STATEFP LIKE '0%'")
	assert.Error(t, err)

	_, err = e.MakeLayer(ctx, "missing", "")
	assert.True(t, errors.Is(err, gis.ErrNotFound))
}

func TestClip(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	lyr, err := e.MakeLayer(ctx, "roads", "")
	require.NoError(t, err)
	clipped, err := e.Clip(ctx, lyr, "boundary")
	require.NoError(t, err)
	require.NoError(t, e.Export(ctx, clipped, "out"))

	assert.Equal(t, []string{"inside", "straddle", "touching"}, names(t, e, "out"))
	fc, _ := e.Get("out")
	assert.Equal(t, box(9, 9, 10, 10), fc.Features[1].Geometry)
}

func TestSpatialSelectNegativeDistance(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	lyr, err := e.MakeLayer(ctx, "roads", "")
	require.NoError(t, err)
	sel, err := e.SpatialSelect(ctx, lyr, "boundary", -0.5)
	require.NoError(t, err)
	require.NoError(t, e.Export(ctx, sel, "out"))

	assert.Equal(t, []string{"inside", "straddle"}, names(t, e, "out"))
}

func TestProjectRetags(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	lyr, err := e.MakeLayer(ctx, "roads", "")
	require.NoError(t, err)
	assert.Equal(t, 4269, lyr.SR.WKID)

	p, err := e.Project(ctx, lyr, gis.SpatialRef{WKID: 3857})
	require.NoError(t, err)
	assert.Equal(t, 3857, p.SR.WKID)
	require.NoError(t, e.Export(ctx, p, "out"))
	fc, _ := e.Get("out")
	assert.Equal(t, 3857, fc.SR.WKID)
}

func TestLayersReleased(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	for i := 0; i < 5; i++ {
		lyr, err := e.MakeLayer(ctx, "roads", "")
		require.NoError(t, err)
		p, err := e.Project(ctx, lyr, gis.SpatialRef{WKID: 3857})
		require.NoError(t, err)
		sel, err := e.SpatialSelect(ctx, p, "boundary", -0.5)
		require.NoError(t, err)
		assert.Len(t, e.layers, 1)
		require.NoError(t, e.Export(ctx, sel, "out"))
	}
	assert.Empty(t, e.layers)

	_, err := e.Clip(ctx, gis.Layer{Name: "lyr_1"}, "boundary")
	assert.ErrorIs(t, err, gis.ErrNotFound)
	assert.Equal(t, []string{"inside", "straddle"}, names(t, e, "out"))
}

func TestAliasesAndMetadata(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	require.NoError(t, e.SetAlias(ctx, "roads", "Roads"))
	require.NoError(t, e.SetFieldAlias(ctx, "roads", "NAME", "Road Name"))
	assert.Error(t, e.SetFieldAlias(ctx, "roads", "NOPE", "x"))
	require.NoError(t, e.ApplyMetadata(ctx, "roads", gis.Metadata{Title: "Roads 2020"}))

	fc, _ := e.Get("roads")
	assert.Equal(t, "Roads", fc.Alias)
	assert.Equal(t, "Road Name", fc.FieldAliases["NAME"])
	assert.Equal(t, "Roads 2020", fc.Metadata.Title)
}

func TestDeleteAndExists(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	ok, _ := e.Exists(ctx, "roads")
	assert.True(t, ok)
	require.NoError(t, e.Delete(ctx, "roads"))
	ok, _ = e.Exists(ctx, "roads")
	assert.False(t, ok)
	assert.Error(t, e.Delete(ctx, "roads"))
}

func TestTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := seed(t)

	tbl, err := e.ReadTable(ctx, "roads")
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Len())
	tbl.Fields = append(tbl.Fields, "EXTRA")
	for _, r := range tbl.Records {
		r["EXTRA"] = "x"
	}

	require.NoError(t, e.WriteTable(ctx, "roads2", tbl))
	require.NoError(t, e.CopyClassInfo("roads", "roads2"))
	fc, ok := e.Get("roads2")
	require.True(t, ok)
	assert.Equal(t, gis.Line, fc.Geometry)
	assert.Equal(t, box(1, 1, 2, 2), fc.Features[0].Geometry)
	assert.Equal(t, "x", fc.Features[0].Attributes["EXTRA"])
	_, hasShape := fc.Features[0].Attributes[ShapeField]
	assert.False(t, hasShape)
}

func TestSnapshot(t *testing.T) {
	e := seed(t)
	path := filepath.Join(t.TempDir(), "workspace.json")
	require.NoError(t, e.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, []string{"boundary", "roads"}, loaded.Names())
	n, err := loaded.RecordCount(context.Background(), "roads")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
