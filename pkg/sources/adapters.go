package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/catalog"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

func init() {
	Register(&tigerLineAdapter{files: DefaultTigerFiles})
	Register(&tigerWebAdapter{})
	Register(&apiAdapter{id: "census-acs5", dataset: project.ACS, path: "acs/acs5",
		desc: "Census API, ACS 5-year detailed tables variable listing"})
	Register(&apiAdapter{id: "census-cre", dataset: project.CRE, path: "cre",
		desc: "Census API, Community Resilience Estimates variable listing"})
}

type tigerLineAdapter struct {
	files []TigerFile
}

func (a *tigerLineAdapter) ID() string               { return "tiger-line" }
func (a *tigerLineAdapter) Dataset() project.Dataset { return project.TIGER }
func (a *tigerLineAdapter) Description() string {
	return "TIGER/Line shapefiles download tree"
}
func (a *tigerLineAdapter) DefaultURL() string { return "https://www2.census.gov/geo/tiger" }
func (a *tigerLineAdapter) License() string    { return "Public Domain" }

func (a *tigerLineAdapter) Fetch(ctx context.Context, env Env, sourceURL string) error {
	return fetchTigerFiles(ctx, env, sourceURL, a.files)
}

type tigerWebAdapter struct{}

func (a *tigerWebAdapter) ID() string               { return "tigerweb" }
func (a *tigerWebAdapter) Dataset() project.Dataset { return project.TIGER }
func (a *tigerWebAdapter) Description() string {
	return "TIGERweb ArcGIS REST services directory"
}
func (a *tigerWebAdapter) DefaultURL() string {
	return "https://tigerweb.geo.census.gov/arcgis/rest/services"
}
func (a *tigerWebAdapter) License() string { return "Public Domain" }

// Fetch crawls the REST catalog and the labeled-layer pages. The labeled
// discovery is best effort.
func (a *tigerWebAdapter) Fetch(ctx context.Context, env Env, sourceURL string) error {
	cr := catalog.NewCrawler(catalog.WithClient(env.client()), catalog.WithLogger(env.log()))
	cat, err := cr.Crawl(ctx, sourceURL)
	if err != nil {
		return err
	}
	if err := cat.Save(env.Project.CatalogPath()); err != nil {
		return err
	}

	labeled, err := cr.DiscoverLabeledLayers(ctx, sourceURL)
	if err != nil {
		env.log().Warn("labeled layer discovery failed", "error", err)
		return nil
	}
	return labeled.Save(env.Project.LabeledPath())
}

type apiAdapter struct {
	id      string
	dataset project.Dataset
	path    string
	desc    string
}

func (a *apiAdapter) ID() string               { return a.id }
func (a *apiAdapter) Dataset() project.Dataset { return a.dataset }
func (a *apiAdapter) Description() string      { return a.desc }
func (a *apiAdapter) DefaultURL() string       { return "https://api.census.gov/data" }
func (a *apiAdapter) License() string          { return "Public Domain" }

// Fetch stores the variable listing of the context year in the source folder.
func (a *apiAdapter) Fetch(ctx context.Context, env Env, sourceURL string) error {
	u := fmt.Sprintf("%s/%d/%s/variables.json", strings.TrimRight(sourceURL, "/"), env.Project.Year, a.path)
	dir := env.Project.SourceDir(a.dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return env.client().Download(ctx, u, filepath.Join(dir, "variables.json"))
}
