// Package memgis is an in-memory gis.Engine. Geometry is reduced to feature
// envelopes, which is enough to exercise clip, spatial selection and record
// counting in tests and dry runs. It never transforms coordinates: Project only
// retags the layer's spatial reference.
package memgis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// ShapeField carries a feature's envelope inside gis.Table records.
const ShapeField = "Shape"

// FeatureClass is a stored table of features.
type FeatureClass struct {
	Geometry     gis.GeometryType  `json:"geometry_type"`
	SR           gis.SpatialRef    `json:"spatial_reference"`
	Fields       []string          `json:"fields"`
	Features     []gis.Feature     `json:"features"`
	Alias        string            `json:"alias,omitempty"`
	FieldAliases map[string]string `json:"field_aliases,omitempty"`
	Metadata     *gis.Metadata     `json:"metadata,omitempty"`
}

func (fc *FeatureClass) clone() *FeatureClass {
	out := *fc
	out.Fields = append([]string(nil), fc.Fields...)
	out.Features = make([]gis.Feature, len(fc.Features))
	for i, f := range fc.Features {
		attrs := make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			attrs[k] = v
		}
		out.Features[i] = gis.Feature{Geometry: f.Geometry, Attributes: attrs}
	}
	if fc.FieldAliases != nil {
		out.FieldAliases = make(map[string]string, len(fc.FieldAliases))
		for k, v := range fc.FieldAliases {
			out.FieldAliases[k] = v
		}
	}
	if fc.Metadata != nil {
		md := *fc.Metadata
		out.Metadata = &md
	}
	return &out
}

// Engine holds feature classes keyed by path (e.g. "gdb/tl2020.gdb/CO").
type Engine struct {
	mu      sync.Mutex
	classes map[string]*FeatureClass
	layers  map[string]*FeatureClass
	seq     int
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		classes: make(map[string]*FeatureClass),
		layers:  make(map[string]*FeatureClass),
	}
}

var _ gis.Engine = (*Engine)(nil)
var _ gis.TableIO = (*Engine)(nil)

// Put stores fc under name, replacing any previous class.
func (e *Engine) Put(name string, fc *FeatureClass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := fc.clone()
	if len(c.Fields) == 0 {
		c.Fields = deriveFields(c.Features)
	}
	e.classes[name] = c
}

// Get returns a copy of the stored class.
func (e *Engine) Get(name string) (*FeatureClass, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.classes[name]
	if !ok {
		return nil, false
	}
	return fc.clone(), true
}

// Names lists stored classes in sorted order.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.classes))
	for n := range e.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type snapshot struct {
	Classes map[string]*FeatureClass `json:"classes"`
}

// Save writes every stored class to a JSON snapshot.
func (e *Engine) Save(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return docstore.WriteAtomic(path, snapshot{Classes: e.classes})
}

// Load replaces the engine contents with a snapshot written by Save.
func (e *Engine) Load(path string) error {
	var s snapshot
	if err := docstore.Read(path, &s); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classes = s.Classes
	if e.classes == nil {
		e.classes = make(map[string]*FeatureClass)
	}
	return nil
}

func (e *Engine) lookup(name string) (*FeatureClass, error) {
	if fc, ok := e.layers[name]; ok {
		return fc, nil
	}
	if fc, ok := e.classes[name]; ok {
		return fc, nil
	}
	return nil, fmt.Errorf("%s: %w", name, gis.ErrNotFound)
}

// Layers are consumed by the operation that derives from them and by Export,
// so a materialization chain holds at most one transient layer.
func (e *Engine) newLayer(source string, fc *FeatureClass) gis.Layer {
	e.seq++
	name := fmt.Sprintf("lyr_%d", e.seq)
	e.layers[name] = fc
	return gis.Layer{Name: name, Source: source, SR: fc.SR, Geometry: fc.Geometry}
}

// MakeLayer opens source, applying a where clause of the form
// FIELD = 'value' [AND FIELD = 'value' ...].
func (e *Engine) MakeLayer(_ context.Context, source, where string) (gis.Layer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.lookup(source)
	if err != nil {
		return gis.Layer{}, err
	}
	conds, err := parseWhere(where)
	if err != nil {
		return gis.Layer{}, err
	}

	out := src.clone()
	out.Features = out.Features[:0]
	for _, f := range src.clone().Features {
		if matches(f, conds) {
			out.Features = append(out.Features, f)
		}
	}
	return e.newLayer(source, out), nil
}

// Project retags the layer with target.
func (e *Engine) Project(_ context.Context, layer gis.Layer, target gis.SpatialRef) (gis.Layer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.lookup(layer.Name)
	if err != nil {
		return gis.Layer{}, err
	}
	out := src.clone()
	out.SR = target
	delete(e.layers, layer.Name)
	return e.newLayer(layer.Source, out), nil
}

// Clip keeps the parts of features overlapping the reference boundary.
func (e *Engine) Clip(_ context.Context, layer gis.Layer, reference string) (gis.Layer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.lookup(layer.Name)
	if err != nil {
		return gis.Layer{}, err
	}
	ref, err := e.lookup(reference)
	if err != nil {
		return gis.Layer{}, err
	}

	out := src.clone()
	out.Features = out.Features[:0]
	for _, f := range src.clone().Features {
		for _, r := range ref.Features {
			if f.Geometry.Intersects(r.Geometry) {
				clipped := f
				clipped.Geometry = f.Geometry.Intersection(r.Geometry)
				out.Features = append(out.Features, clipped)
				break
			}
		}
	}
	delete(e.layers, layer.Name)
	return e.newLayer(layer.Source, out), nil
}

// SpatialSelect keeps features intersecting the reference boundary buffered
// by distance. A negative distance excludes features that only touch the
// boundary from outside.
func (e *Engine) SpatialSelect(_ context.Context, layer gis.Layer, reference string, distance float64) (gis.Layer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.lookup(layer.Name)
	if err != nil {
		return gis.Layer{}, err
	}
	ref, err := e.lookup(reference)
	if err != nil {
		return gis.Layer{}, err
	}

	out := src.clone()
	out.Features = out.Features[:0]
	for _, f := range src.clone().Features {
		for _, r := range ref.Features {
			zone := r.Geometry.Buffer(distance)
			if !zone.Empty() && f.Geometry.Intersects(zone) {
				out.Features = append(out.Features, f)
				break
			}
		}
	}
	delete(e.layers, layer.Name)
	return e.newLayer(layer.Source, out), nil
}

// Export copies the layer into a stored class at destination.
func (e *Engine) Export(_ context.Context, layer gis.Layer, destination string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.lookup(layer.Name)
	if err != nil {
		return err
	}
	out := src.clone()
	out.Alias = ""
	out.FieldAliases = nil
	out.Metadata = nil
	e.classes[destination] = out
	delete(e.layers, layer.Name)
	return nil
}

func (e *Engine) RecordCount(_ context.Context, table string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, err := e.lookup(table)
	if err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

func (e *Engine) Exists(_ context.Context, table string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.classes[table]
	return ok, nil
}

func (e *Engine) Delete(_ context.Context, table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.classes[table]; !ok {
		return fmt.Errorf("%s: %w", table, gis.ErrNotFound)
	}
	delete(e.classes, table)
	return nil
}

func (e *Engine) SetAlias(_ context.Context, table, alias string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.classes[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, gis.ErrNotFound)
	}
	fc.Alias = alias
	return nil
}

func (e *Engine) SetFieldAlias(_ context.Context, table, field, alias string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.classes[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, gis.ErrNotFound)
	}
	found := false
	for _, f := range fc.Fields {
		if f == field {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s.%s: %w", table, field, gis.ErrNotFound)
	}
	if fc.FieldAliases == nil {
		fc.FieldAliases = make(map[string]string)
	}
	fc.FieldAliases[field] = alias
	return nil
}

func (e *Engine) ApplyMetadata(_ context.Context, table string, md gis.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.classes[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, gis.ErrNotFound)
	}
	fc.Metadata = &md
	return nil
}

// ReadTable returns the attribute table of a stored class. Each record also
// carries the feature envelope under ShapeField.
func (e *Engine) ReadTable(_ context.Context, name string) (*gis.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.classes[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, gis.ErrNotFound)
	}
	t := &gis.Table{Name: name, Fields: append([]string(nil), fc.Fields...)}
	for _, f := range fc.clone().Features {
		r := gis.Record(f.Attributes)
		r[ShapeField] = f.Geometry
		t.Records = append(t.Records, r)
	}
	return t, nil
}

// WriteTable stores t as a class named name. Records without a ShapeField
// envelope are written with an empty geometry. The geometry type and spatial
// reference of an existing class with the same name are kept.
func (e *Engine) WriteTable(_ context.Context, name string, t *gis.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fc := &FeatureClass{Fields: append([]string(nil), t.Fields...)}
	if prev, ok := e.classes[name]; ok {
		fc.Geometry = prev.Geometry
		fc.SR = prev.SR
	}
	for _, r := range t.Records {
		attrs := make(map[string]any, len(r))
		var env gis.Envelope
		for k, v := range r {
			if k == ShapeField {
				if g, ok := v.(gis.Envelope); ok {
					env = g
				}
				continue
			}
			attrs[k] = v
		}
		fc.Features = append(fc.Features, gis.Feature{Geometry: env, Attributes: attrs})
	}
	e.classes[name] = fc
	return nil
}

// CopyClassInfo copies geometry type and spatial reference from src to dst.
func (e *Engine) CopyClassInfo(src, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.classes[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, gis.ErrNotFound)
	}
	d, ok := e.classes[dst]
	if !ok {
		return fmt.Errorf("%s: %w", dst, gis.ErrNotFound)
	}
	d.Geometry = s.Geometry
	d.SR = s.SR
	return nil
}

type cond struct {
	field, value string
}

var (
	andSplit = regexp.MustCompile(`(?i)\s+AND\s+`)
	eqClause = regexp.MustCompile(`^\s*(\w+)\s*=\s*(?:'([^']*)'|(\S+))\s*$`)
)

func parseWhere(where string) ([]cond, error) {
	if strings.TrimSpace(where) == "" {
		return nil, nil
	}
	var conds []cond
	for _, part := range andSplit.Split(where, -1) {
		m := eqClause.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("memgis: unsupported where clause %q", part)
		}
		v := m[2]
		if v == "" {
			v = m[3]
		}
		conds = append(conds, cond{field: m[1], value: v})
	}
	return conds, nil
}

func matches(f gis.Feature, conds []cond) bool {
	for _, c := range conds {
		if gis.AsString(f.Attributes[c.field]) != c.value {
			return false
		}
	}
	return true
}

func deriveFields(features []gis.Feature) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, f := range features {
		for k := range f.Attributes {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return fields
}
