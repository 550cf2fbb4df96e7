// Package materialize turns codebook feature layer entries into feature
// classes in the per-year container, one layer at a time:
//
//	Pending → Fetched → Transformed → Exported → Validated → Aliased → Done
//	                                          ↘ Dropped (zero records)
//
// An empty output is deleted and reported as dropped, not as an error.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// DefaultWithinDistance is the negative buffer applied to the reference
// boundary by the within method.
const DefaultWithinDistance = -1.0

// ErrNoBoundary is returned when clip or within runs without a reference.
var ErrNoBoundary = errors.New("no reference boundary configured")

// State is a step of the per-layer state machine.
type State string

const (
	Pending     State = "pending"
	Fetched     State = "fetched"
	Transformed State = "transformed"
	Exported    State = "exported"
	Validated   State = "validated"
	Aliased     State = "aliased"
	Done        State = "done"
	Dropped     State = "dropped"
)

// Result describes a materialized feature class.
type Result struct {
	Code      string          `json:"code"`
	Path      string          `json:"path"`
	Method    codebook.Method `json:"method"`
	Records   int             `json:"records"`
	Projected bool            `json:"projected"`
	State     State           `json:"state"`
}

type strategy func(ctx context.Context, m *Materializer, layer gis.Layer) (gis.Layer, error)

// strategies has one entry per codebook.Method.
var strategies = map[codebook.Method]strategy{
	codebook.Copy: func(_ context.Context, _ *Materializer, layer gis.Layer) (gis.Layer, error) {
		return layer, nil
	},
	codebook.Clip: func(ctx context.Context, m *Materializer, layer gis.Layer) (gis.Layer, error) {
		if m.pc.Boundary == "" {
			return gis.Layer{}, ErrNoBoundary
		}
		return m.engine.Clip(ctx, layer, m.pc.Boundary)
	},
	codebook.Within: func(ctx context.Context, m *Materializer, layer gis.Layer) (gis.Layer, error) {
		if m.pc.Boundary == "" {
			return gis.Layer{}, ErrNoBoundary
		}
		return m.engine.SpatialSelect(ctx, layer, m.pc.Boundary, m.within)
	},
	// Query filters at MakeLayer time; see whereFor.
	codebook.Query: func(_ context.Context, _ *Materializer, layer gis.Layer) (gis.Layer, error) {
		return layer, nil
	},
}

// Materializer runs entries of one year against a GIS engine.
type Materializer struct {
	engine  gis.Engine
	pc      project.Context
	within  float64
	resolve func(*codebook.FeatureLayerEntry) string
	logger  *slog.Logger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithWithinDistance overrides DefaultWithinDistance.
func WithWithinDistance(d float64) Option {
	return func(m *Materializer) { m.within = d }
}

// WithResolver overrides how an entry's source path is built.
func WithResolver(fn func(*codebook.FeatureLayerEntry) string) Option {
	return func(m *Materializer) { m.resolve = fn }
}

// New returns a materializer for the context year.
func New(engine gis.Engine, pc project.Context, opts ...Option) *Materializer {
	m := &Materializer{
		engine: engine,
		pc:     pc,
		within: DefaultWithinDistance,
		logger: pc.Log(),
	}
	m.resolve = func(e *codebook.FeatureLayerEntry) string {
		return filepath.Join(pc.SourceDir(project.TIGER), e.SourceFile)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Target is the output feature class of e in dataset d.
func (m *Materializer) Target(d project.Dataset, e *codebook.FeatureLayerEntry) string {
	return m.pc.FeatureClass(d, e.Code)
}

// Materialize produces the feature class of e from source into target. It
// returns (nil, nil) when the output is empty and was removed.
func (m *Materializer) Materialize(ctx context.Context, e *codebook.FeatureLayerEntry, source, target string) (*Result, error) {
	run, ok := strategies[e.Method]
	if !ok {
		return nil, fmt.Errorf("%s: unknown method %q", e.Code, e.Method)
	}
	res := &Result{Code: e.Code, Path: target, Method: e.Method, State: Pending}
	log := m.logger.With("code", e.Code, "method", e.Method)

	layer, err := m.engine.MakeLayer(ctx, source, m.whereFor(e.Method))
	if err != nil {
		return nil, fmt.Errorf("%s: make layer %s: %w", e.Code, source, err)
	}
	res.State = Fetched

	if from := layer.SR; !from.Equal(m.pc.SpatialRef) {
		layer, err = m.engine.Project(ctx, layer, m.pc.SpatialRef)
		if err != nil {
			return nil, fmt.Errorf("%s: project %s to %s: %w", e.Code, from, m.pc.SpatialRef, err)
		}
		res.Projected = true
	}
	layer, err = run(ctx, m, layer)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", e.Code, e.Method, err)
	}
	res.State = Transformed

	if err := m.engine.Export(ctx, layer, target); err != nil {
		return nil, fmt.Errorf("%s: export %s: %w", e.Code, target, err)
	}
	res.State = Exported

	n, err := m.engine.RecordCount(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%s: count %s: %w", e.Code, target, err)
	}
	if n == 0 {
		if err := m.engine.Delete(ctx, target); err != nil {
			return nil, fmt.Errorf("%s: delete empty %s: %w", e.Code, target, err)
		}
		log.Info("empty output dropped", "target", target)
		return nil, nil
	}
	res.Records = n
	res.State = Validated

	if err := m.engine.SetAlias(ctx, target, e.Alias); err != nil {
		return nil, fmt.Errorf("%s: alias: %w", e.Code, err)
	}
	res.State = Aliased

	if err := m.engine.ApplyMetadata(ctx, target, e.Metadata()); err != nil {
		return nil, fmt.Errorf("%s: metadata: %w", e.Code, err)
	}
	res.State = Done
	log.Debug("layer materialized", "target", target, "records", n, "projected", res.Projected)
	return res, nil
}

func (m *Materializer) whereFor(method codebook.Method) string {
	if method != codebook.Query || m.pc.State == "" {
		return ""
	}
	if m.pc.County == "" {
		return fmt.Sprintf("STATEFP = '%s'", m.pc.State)
	}
	return fmt.Sprintf("STATEFP = '%s' AND COUNTYFP = '%s'", m.pc.State, m.pc.County)
}

// Failure is a layer that could not be materialized.
type Failure struct {
	Code string `json:"code"`
	Err  error  `json:"-"`
}

func (f Failure) Error() string { return f.Code + ": " + f.Err.Error() }

// Report summarizes a batch.
type Report struct {
	Done    []*Result `json:"done"`
	Dropped []string  `json:"dropped"`
	Failed  []Failure `json:"failed"`
}

// Batch materializes every feature layer of cb in code order. A failing
// layer is logged and recorded; the batch continues. Only context
// cancellation stops it early.
func (m *Materializer) Batch(ctx context.Context, cb *codebook.Codebook) (*Report, error) {
	rep := &Report{}
	for _, e := range cb.FeatureLayers() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := m.Materialize(ctx, e, m.resolve(e), m.Target(cb.Dataset, e))
		switch {
		case err != nil:
			m.logger.Warn("layer failed", "year", cb.Year, "code", e.Code, "error", err)
			rep.Failed = append(rep.Failed, Failure{Code: e.Code, Err: err})
		case res == nil:
			rep.Dropped = append(rep.Dropped, e.Code)
		default:
			rep.Done = append(rep.Done, res)
		}
	}
	m.logger.Info("materialize batch finished",
		"year", cb.Year,
		"done", len(rep.Done),
		"dropped", len(rep.Dropped),
		"failed", len(rep.Failed),
	)
	return rep, nil
}
