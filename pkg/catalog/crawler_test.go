package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const svcPath = "/rest/services/TIGERweb/tigerWMS_ACS2020/MapServer"

// arcgisTree serves a small TIGERweb-like REST tree.
func arcgisTree(t *testing.T, extra map[string]string) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/rest/services":          `{"folders":["TIGERweb"],"services":[]}`,
		"/rest/services/TIGERweb": `{"services":[{"name":"TIGERweb/tigerWMS_ACS2020","type":"MapServer"},{"name":"TIGERweb/tigerWMS_Current","type":"MapServer"},{"name":"TIGERweb/Broken2019","type":"MapServer"},{"name":"TIGERweb/Geocoder","type":"GeocodeServer"}]}`,
		svcPath: `{"currentVersion":10.81,"serviceDescription":"ACS 2020 geography","spatialReference":{"wkid":102100,"latestWkid":3857},
			"layers":[
				{"id":82,"name":"Counties 2020","type":"Feature Layer"},
				{"id":8,"name":"Census Tracts 2020","type":"Feature Layer"},
				{"id":48,"name":"Alaska Native Regional Corporation 2020","type":"Feature Layer"},
				{"id":84,"name":"Counties Labels","type":"Annotation Layer"},
				{"id":28,"name":"Urban Areas 2020","type":"Feature Layer"},
				{"id":99,"name":"States 2020","type":"Feature Layer"}
			]}`,
		svcPath + "/82": `{"id":82,"name":"Counties 2020","type":"Feature Layer","geometryType":"esriGeometryPolygon","fields":[{"name":"STATE"},{"name":"COUNTY"},{"name":"GEOID"}]}`,
		svcPath + "/8":  `{"id":8,"name":"Census Tracts 2020","type":"Feature Layer","geometryType":"esriGeometryPolygon","fields":[{"name":"TRACT"},{"name":"STATE"},{"name":"COUNTY"}]}`,
		svcPath + "/28": `{"id":28,"name":"Urban Areas 2020","type":"Feature Layer","geometryType":"esriGeometryPolygon","fields":[{"name":"UA"},{"name":"NAME"}]}`,
		svcPath + "/99": `{"error":{"code":500,"message":"layer unavailable"}}`,
		"/rest/services/TIGERweb/tigerWMS_Current/MapServer": `{"currentVersion":11,"spatialReference":{"wkid":3857},"layers":[
				{"id":1,"name":"Congressional Districts","type":"Feature Layer"}]}`,
		"/rest/services/TIGERweb/tigerWMS_Current/MapServer/1": `{"id":1,"name":"Congressional Districts","type":"Feature Layer","geometryType":"esriGeometryPolygon","fields":[{"name":"STATE"},{"name":"CD116"}]}`,
	}
	for k, v := range extra {
		pages[k] = v
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("f") != "json" {
			http.Error(w, "want f=json", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestCrawlExclusionAndClassification(t *testing.T) {
	srv := arcgisTree(t, nil)
	defer srv.Close()

	cat, err := NewCrawler().Crawl(context.Background(), srv.URL+"/rest/services")
	require.NoError(t, err)

	require.Contains(t, cat.Series, "tigerWMS_ACS")
	svc := cat.Series["tigerWMS_ACS"]["2020"]
	require.NotNil(t, svc)
	assert.Equal(t, 2020, svc.Year)
	assert.Equal(t, 3857, svc.WKID)
	assert.Equal(t, "10.81", svc.Version)
	assert.Equal(t, "ACS 2020 geography", svc.Description)

	assert.Contains(t, svc.Layers, "Counties 2020")
	assert.NotContains(t, svc.Layers, "Alaska Native Regional Corporation 2020")
	assert.NotContains(t, svc.Layers, "Counties Labels")
	assert.NotContains(t, svc.Layers, "States 2020", "failed layer must be skipped")

	assert.Equal(t, Query, svc.Layers["Counties 2020"].JoinMethod)
	assert.Equal(t, gis.Polygon, svc.Layers["Counties 2020"].GeometryType)
	assert.Equal(t, SpatialOnly, svc.Layers["Urban Areas 2020"].JoinMethod)

	require.Contains(t, cat.Standalone, "tigerWMS_Current")
	assert.Equal(t, SpatialWithinDistance, cat.Standalone["tigerWMS_Current"].Layers["Congressional Districts"].JoinMethod)

	// Broken2019 has no service page and must not abort the crawl.
	assert.NotContains(t, cat.Series, "Broken")
}

func TestCrawlEntries(t *testing.T) {
	srv := arcgisTree(t, nil)
	defer srv.Close()

	cat, err := NewCrawler().Crawl(context.Background(), srv.URL+"/rest/services")
	require.NoError(t, err)

	entries := cat.EntriesForYear(2020)
	require.Len(t, entries, 3)
	assert.Equal(t, 8, entries[0].LayerID)
	assert.Equal(t, "Census Tracts", entries[0].Category)
	assert.Equal(t, []string{"COUNTY", "STATE", "TRACT"}, entries[0].Fields)
	assert.Equal(t, "Urban Areas", entries[1].Category)
	assert.Equal(t, "Counties", entries[2].Category)
	assert.Equal(t, Query, entries[2].JoinMethod)
	assert.Empty(t, cat.EntriesForYear(2019))
}

func TestCrawlRootFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewCrawler().Crawl(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog root")
}

func TestCrawlRootErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":499,"message":"Token Required"}}`)
	}))
	defer srv.Close()

	_, err := NewCrawler().Crawl(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token Required")
}

func TestCrawlCustomExclusions(t *testing.T) {
	srv := arcgisTree(t, nil)
	defer srv.Close()

	c := NewCrawler(WithExclusions([]string{"urban"}))
	cat, err := c.Crawl(context.Background(), srv.URL+"/rest/services")
	require.NoError(t, err)

	layers := cat.Series["tigerWMS_ACS"]["2020"].Layers
	assert.NotContains(t, layers, "Urban Areas 2020")
	assert.Contains(t, layers, "Alaska Native Regional Corporation 2020")
}

func TestSplitYear(t *testing.T) {
	tests := []struct {
		in     string
		prefix string
		year   int
		ok     bool
	}{
		{"tigerWMS_ACS2020", "tigerWMS_ACS", 2020, true},
		{"tigerWMS_Census2010", "tigerWMS_Census", 2010, true},
		{"Counties 2020", "Counties", 2020, true},
		{"tigerWMS_Current", "tigerWMS_Current", 0, false},
		{"2020", "2020", 0, false},
	}
	for _, tt := range tests {
		prefix, year, ok := SplitYear(tt.in)
		if prefix != tt.prefix || year != tt.year || ok != tt.ok {
			t.Errorf("SplitYear(%q) = %q, %d, %v", tt.in, prefix, year, ok)
		}
	}
}

func TestClassifyFields(t *testing.T) {
	assert.Equal(t, Query, ClassifyFields([]string{"STATEFP", "COUNTYFP", "GEOID"}))
	assert.Equal(t, Query, ClassifyFields([]string{"statefp20", "countyfp20"}))
	assert.Equal(t, SpatialWithinDistance, ClassifyFields([]string{"STATE", "PLACE"}))
	assert.Equal(t, SpatialOnly, ClassifyFields([]string{"ZCTA5", "COUNTYNS"}))
	assert.Equal(t, SpatialOnly, ClassifyFields(nil))
}

func TestCatalogSaveLoad(t *testing.T) {
	srv := arcgisTree(t, nil)
	defer srv.Close()

	cat, err := NewCrawler().Crawl(context.Background(), srv.URL+"/rest/services")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog", "catalog.json")
	require.NoError(t, cat.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cat.Entries(), got.Entries())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, docstore.ErrMissing)
}

func TestExcluded(t *testing.T) {
	c := NewCrawler()
	for _, name := range []string{"Alaska Native Regional Corporation 2020", "Tribal Census Tracts", "Hawaiian Home Lands", "County Labels"} {
		if !c.Excluded(name) {
			t.Errorf("Excluded(%q) = false", name)
		}
	}
	if c.Excluded("Counties 2020") {
		t.Error("Counties 2020 must be retained")
	}
}
