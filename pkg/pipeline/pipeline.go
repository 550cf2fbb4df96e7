// Package pipeline sequences the per-year work: materialize the TIGER layers
// named by the year's codebook, then attach Census statistics to the
// geometry of each requested geography.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/censusgdb/pkg/censusapi"
	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/geojoin"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"github.com/hazyhaar/censusgdb/pkg/materialize"
	"github.com/hazyhaar/censusgdb/pkg/project"
	"github.com/hazyhaar/censusgdb/pkg/variables"
)

// Engine is a GIS engine that can also read and write attribute tables.
type Engine interface {
	gis.Engine
	gis.TableIO
}

// classInfoCopier is implemented by engines that can carry geometry type and
// spatial reference over to a table written with WriteTable.
type classInfoCopier interface {
	CopyClassInfo(src, dst string) error
}

// Request names the statistics to attach to one geography.
type Request struct {
	Geography geography.Code `yaml:"geography" json:"geography"`
	Variables []string       `yaml:"variables" json:"variables"`
	// Dataset is the output container, ACS (default) or CRE.
	Dataset project.Dataset `yaml:"dataset" json:"dataset,omitempty"`
}

// AttachResult reports one statistics attachment.
type AttachResult struct {
	Geography    geography.Code      `json:"geography"`
	Target       string              `json:"target"`
	Rows         int                 `json:"rows"`
	FailedChunks int                 `json:"failed_chunks"`
	Inconsistent int                 `json:"inconsistent"`
	Diagnostics  geojoin.Diagnostics `json:"diagnostics"`
}

// Pipeline holds the services shared by every year.
type Pipeline struct {
	Engine Engine
	// Fetchers maps an output dataset to its statistics source.
	Fetchers  map[project.Dataset]censusapi.Fetcher
	ChunkSize int
	Codebooks *codebook.Store
	// Variables provides field aliases; nil leaves fields unaliased.
	Variables *variables.MasterTable
	// Materialize options applied to every year.
	Materialize []materialize.Option
	Logger      *slog.Logger
}

func (p *Pipeline) log() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// AttachStatistics reads the geometry of req.Geography from the TIGER
// container, fetches the variables in chunks, joins them by GEOID and writes
// the result to the ACS (or CRE) container. A count discrepancy is logged
// and written into the output metadata.
func (p *Pipeline) AttachStatistics(ctx context.Context, pc project.Context, req Request) (*AttachResult, error) {
	shape, err := geography.Lookup(req.Geography)
	if err != nil {
		return nil, err
	}
	dataset := req.Dataset
	if dataset == "" {
		dataset = project.ACS
	}
	f, ok := p.Fetchers[dataset]
	if !ok {
		return nil, fmt.Errorf("no statistics source for dataset %q", dataset)
	}
	chunk := p.ChunkSize
	if chunk < 1 {
		chunk = 49
	}

	source := pc.FeatureClass(project.TIGER, shape.FeatureCode)
	geom, err := p.Engine.ReadTable(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("read geometry %s: %w", source, err)
	}

	merged, err := censusapi.FetchChunked(ctx, f, censusapi.Request{
		Year:      pc.Year,
		Variables: req.Variables,
		Geography: req.Geography,
		State:     pc.State,
		County:    pc.County,
	}, chunk, p.log())
	if err != nil {
		return nil, err
	}

	joined, err := geojoin.Join(geom, merged.Table(fmt.Sprintf("%s_%s", dataset, req.Geography)), req.Geography, geojoin.Options{
		State:  pc.State,
		County: pc.County,
		Logger: p.log(),
	})
	if err != nil {
		return nil, err
	}

	target := pc.FeatureClass(dataset, shape.FeatureCode)
	if err := p.Engine.WriteTable(ctx, target, joined.Table); err != nil {
		return nil, fmt.Errorf("write %s: %w", target, err)
	}
	if c, ok := p.Engine.(classInfoCopier); ok {
		if err := c.CopyClassInfo(source, target); err != nil {
			return nil, err
		}
	}

	if p.Variables != nil {
		recs := p.Variables.ForYear(pc.Year)
		for _, field := range joined.Table.Fields {
			r, ok := recs[field]
			if !ok || geom.HasField(field) {
				continue
			}
			if err := p.Engine.SetFieldAlias(ctx, target, field, r.Alias); err != nil {
				return nil, fmt.Errorf("alias %s.%s: %w", target, field, err)
			}
		}
	}

	md, alias := p.describe(pc, shape.FeatureCode, dataset, req.Geography)
	if msg := joined.Diagnostics.Discrepancy(); msg != "" {
		md.Description += "\n\nRecord count discrepancy: " + msg + "."
	}
	if err := p.Engine.SetAlias(ctx, target, alias); err != nil {
		return nil, fmt.Errorf("alias %s: %w", target, err)
	}
	if err := p.Engine.ApplyMetadata(ctx, target, md); err != nil {
		return nil, fmt.Errorf("metadata %s: %w", target, err)
	}

	res := &AttachResult{
		Geography:    req.Geography,
		Target:       target,
		Rows:         joined.Table.Len(),
		FailedChunks: merged.FailedChunks,
		Inconsistent: len(merged.Inconsistent),
		Diagnostics:  joined.Diagnostics,
	}
	p.log().Info("statistics attached",
		"year", pc.Year,
		"geography", req.Geography,
		"target", target,
		"rows", res.Rows,
		"matched", res.Diagnostics.Matched,
	)
	return res, nil
}

// describe takes the alias and metadata of the geometry layer from the
// year's codebook when one is available.
func (p *Pipeline) describe(pc project.Context, code string, d project.Dataset, g geography.Code) (gis.Metadata, string) {
	label := "ACS 5-year estimates"
	if d == project.CRE {
		label = "Community Resilience Estimates"
	}
	md := gis.Metadata{
		Title:       fmt.Sprintf("%s %d by %s", label, pc.Year, g),
		Tags:        fmt.Sprintf("census, %s, %d", g, pc.Year),
		Summary:     fmt.Sprintf("%s joined to TIGER/Line %s geometry.", label, g),
		Description: fmt.Sprintf("%s for %d, joined by GEOID to the %s layer of %s.", label, pc.Year, code, pc.GDBName(project.TIGER)),
		Credits:     "U.S. Census Bureau",
	}
	alias := md.Title
	if p.Codebooks == nil {
		return md, alias
	}
	cb, err := p.Codebooks.Load(pc.Year)
	if err != nil {
		return md, alias
	}
	if e, ok := cb.Get(code); ok {
		base := e.Base()
		md.Tags = base.Tags + ", " + md.Tags
		md.Credits = base.Credits
		md.AccessConstraints = base.AccessText
		alias = base.Alias + " (" + label + ")"
	}
	return md, alias
}

// YearReport is the outcome of one year of RunYears.
type YearReport struct {
	Year        int                 `json:"year"`
	Materialize *materialize.Report `json:"materialize,omitempty"`
	Attached    []*AttachResult     `json:"attached,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
}

// Failed reports whether any unit of the year failed.
func (r *YearReport) Failed() bool {
	return len(r.Errors) > 0 || (r.Materialize != nil && len(r.Materialize.Failed) > 0)
}

// RunYears materializes and attaches statistics for every year. A missing
// codebook fails that year only; a failed attachment fails that geography
// only. The run stops early only when ctx is done.
func (p *Pipeline) RunYears(ctx context.Context, base project.Context, years []int, reqs []Request) ([]*YearReport, error) {
	if p.Codebooks == nil {
		return nil, errors.New("pipeline has no codebook store")
	}
	var out []*YearReport
	for _, y := range years {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		pc := base.WithYear(y)
		rep := &YearReport{Year: y}
		out = append(out, rep)

		cb, err := p.Codebooks.Load(y)
		if err != nil {
			p.log().Warn("year skipped", "year", y, "error", err)
			rep.Errors = append(rep.Errors, err.Error())
			continue
		}
		rep.Materialize, err = materialize.New(p.Engine, pc, p.Materialize...).Batch(ctx, cb)
		if err != nil {
			return out, err
		}
		for _, r := range reqs {
			res, err := p.AttachStatistics(ctx, pc, r)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				p.log().Warn("statistics not attached", "year", y, "geography", r.Geography, "error", err)
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", r.Geography, err))
				continue
			}
			rep.Attached = append(rep.Attached, res)
		}
	}
	return out, nil
}
