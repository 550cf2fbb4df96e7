package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// DefaultExclusions are layer-name fragments (case-insensitive) for
// administrative, tribal and label layers that county processing never uses.
var DefaultExclusions = []string{
	"Alaska Native",
	"American Indian",
	"Tribal",
	"Hawaiian Home Land",
	"Off-Reservation",
	"Labels",
}

const featureLayer = "Feature Layer"

// Crawler walks a REST service tree.
type Crawler struct {
	client  *fetch.Client
	logger  *slog.Logger
	exclude []string
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithClient sets the HTTP client.
func WithClient(c *fetch.Client) Option { return func(cr *Crawler) { cr.client = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(cr *Crawler) { cr.logger = l } }

// WithExclusions replaces the default exclusion list.
func WithExclusions(names []string) Option {
	return func(cr *Crawler) { cr.exclude = append([]string(nil), names...) }
}

// NewCrawler returns a crawler with a 60s per-request timeout and the default
// exclusion list.
func NewCrawler(opts ...Option) *Crawler {
	c := &Crawler{
		client:  fetch.New(60 * time.Second),
		logger:  slog.Default(),
		exclude: DefaultExclusions,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type serviceRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type directory struct {
	Folders  []string     `json:"folders"`
	Services []serviceRef `json:"services"`
	Error    *apiError    `json:"error"`
}

type layerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type serviceInfo struct {
	CurrentVersion     float64 `json:"currentVersion"`
	ServiceDescription string  `json:"serviceDescription"`
	Description        string  `json:"description"`
	SpatialReference   struct {
		WKID       int `json:"wkid"`
		LatestWKID int `json:"latestWkid"`
	} `json:"spatialReference"`
	Layers []layerRef `json:"layers"`
	Error  *apiError  `json:"error"`
}

type layerInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	GeometryType string `json:"geometryType"`
	Fields       []struct {
		Name string `json:"name"`
	} `json:"fields"`
	Error *apiError `json:"error"`
}

func (e *apiError) err() error {
	if e == nil {
		return nil
	}
	return fmt.Errorf("arcgis error %d: %s", e.Code, e.Message)
}

// Crawl walks baseURL and returns the catalog. Only a failure to read the root
// directory is fatal; service and layer failures are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, baseURL string) (*Catalog, error) {
	base := strings.TrimRight(baseURL, "/")

	var root directory
	if err := c.getJSON(ctx, base, &root); err != nil {
		return nil, fmt.Errorf("fetch catalog root: %w", err)
	}
	if err := root.Error.err(); err != nil {
		return nil, fmt.Errorf("fetch catalog root: %w", err)
	}

	services := append([]serviceRef(nil), root.Services...)
	folders := append([]string(nil), root.Folders...)
	sort.Strings(folders)
	for _, folder := range folders {
		var sub directory
		err := c.getJSON(ctx, base+"/"+folder, &sub)
		if err == nil {
			err = sub.Error.err()
		}
		if err != nil {
			c.logger.Warn("catalog folder skipped", "folder", folder, "error", err)
			continue
		}
		services = append(services, sub.Services...)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	cat := New(base)
	var skipped int
	for _, ref := range services {
		if ref.Type != "MapServer" && ref.Type != "FeatureServer" {
			continue
		}
		svc, err := c.crawlService(ctx, base, ref)
		if err != nil {
			skipped++
			c.logger.Warn("catalog service skipped", "service", ref.Name, "error", err)
			continue
		}
		cat.Add(svc)
	}

	c.logger.Info("catalog crawl complete",
		"series", len(cat.Series),
		"standalone", len(cat.Standalone),
		"skipped", skipped,
	)
	return cat, nil
}

func (c *Crawler) crawlService(ctx context.Context, base string, ref serviceRef) (*Service, error) {
	url := base + "/" + ref.Name + "/" + ref.Type

	var info serviceInfo
	if err := c.getJSON(ctx, url, &info); err != nil {
		return nil, err
	}
	if err := info.Error.err(); err != nil {
		return nil, err
	}

	wkid := info.SpatialReference.LatestWKID
	if wkid == 0 {
		wkid = info.SpatialReference.WKID
	}
	desc := info.ServiceDescription
	if desc == "" {
		desc = info.Description
	}
	svc := &Service{
		Name:        ref.Name,
		Type:        ref.Type,
		URL:         url,
		Version:     strconv.FormatFloat(info.CurrentVersion, 'f', -1, 64),
		Description: strings.TrimSpace(desc),
		WKID:        wkid,
		Layers:      make(map[string]*Layer),
	}

	refs := append([]layerRef(nil), info.Layers...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	for _, lr := range refs {
		if lr.Type != "" && lr.Type != featureLayer {
			continue
		}
		if c.Excluded(lr.Name) {
			c.logger.Debug("layer excluded", "service", ref.Name, "layer", lr.Name)
			continue
		}
		layer, err := c.crawlLayer(ctx, url, lr.ID)
		if err != nil {
			c.logger.Warn("catalog layer skipped", "service", ref.Name, "layer", lr.Name, "error", err)
			continue
		}
		if layer == nil {
			continue
		}
		svc.Layers[layer.Name] = layer
	}
	return svc, nil
}

func (c *Crawler) crawlLayer(ctx context.Context, serviceURL string, id int) (*Layer, error) {
	var info layerInfo
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%d", serviceURL, id), &info); err != nil {
		return nil, err
	}
	if err := info.Error.err(); err != nil {
		return nil, err
	}
	if info.Type != featureLayer || c.Excluded(info.Name) {
		return nil, nil
	}
	geom, ok := esriGeometry(info.GeometryType)
	if !ok {
		return nil, fmt.Errorf("unsupported geometry type %q", info.GeometryType)
	}

	fields := make([]string, 0, len(info.Fields))
	for _, f := range info.Fields {
		fields = append(fields, f.Name)
	}
	sort.Strings(fields)

	return &Layer{
		ID:           info.ID,
		Name:         info.Name,
		GeometryType: geom,
		Fields:       fields,
		JoinMethod:   ClassifyFields(fields),
	}, nil
}

// Excluded reports whether a layer name matches the exclusion list.
func (c *Crawler) Excluded(name string) bool {
	lower := strings.ToLower(name)
	for _, x := range c.exclude {
		if strings.Contains(lower, strings.ToLower(x)) {
			return true
		}
	}
	return false
}

func (c *Crawler) getJSON(ctx context.Context, url string, v any) error {
	return c.client.GetJSON(ctx, url+"?f=json", v)
}

func esriGeometry(s string) (gis.GeometryType, bool) {
	switch s {
	case "esriGeometryPoint", "esriGeometryMultipoint":
		return gis.Point, true
	case "esriGeometryPolyline":
		return gis.Line, true
	case "esriGeometryPolygon", "esriGeometryEnvelope":
		return gis.Polygon, true
	}
	return "", false
}
