package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/censusapi"
	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/materialize"
	"github.com/hazyhaar/censusgdb/pkg/pipeline"
	"github.com/hazyhaar/censusgdb/pkg/project"
	"github.com/hazyhaar/censusgdb/pkg/variables"
)

// localListings reads the variables.json documents fetched by the
// census-acs5 source into the per-year ACS source folders.
type localListings struct {
	a *app
}

func (l localListings) FetchVariables(_ context.Context, year int) (variables.Listing, error) {
	f, err := os.Open(filepath.Join(l.a.context(year).SourceDir(project.ACS), "variables.json"))
	if err != nil {
		return variables.Listing{}, err
	}
	defer f.Close()
	return variables.ParseListing(year, f)
}

func cmdVariables(args []string) error {
	fs, common := newFlagSet("variables")
	offline := fs.Bool("offline", false, "read variables.json from the source folders instead of the API")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	var src variables.Source = localListings{a: a}
	if !*offline {
		c, err := a.censusClient()
		if err != nil {
			return err
		}
		src = c
	}

	mt, err := variables.NewReconciler(src, a.logger).Build(ctx, a.cfg.Years)
	if err != nil {
		return err
	}
	pc := a.context(a.cfg.Years[0])
	if err := mt.ExportJSON(pc.VariablesPath()); err != nil {
		return fmt.Errorf("export variables: %w", err)
	}

	store, err := variables.OpenStore(a.path(a.cfg.DBPath))
	if err != nil {
		return err
	}
	defer store.Close()
	runID, err := store.Save(mt)
	if err != nil {
		return err
	}
	a.logger.Info("variables reconciled",
		"run", runID,
		"years", mt.Years,
		"missing", mt.Missing,
		"records", len(mt.Records),
		"path", pc.VariablesPath(),
	)
	return nil
}

func cmdMaterialize(args []string) error {
	fs, common := newFlagSet("materialize")
	within := fs.Float64("within-distance", materialize.DefaultWithinDistance, "buffer applied to the boundary by the within method")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	engine, wsPath, err := a.workspace()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	var reports []*materialize.Report
	var failed int
	for _, y := range a.cfg.Years {
		pc := a.context(y)
		cb, err := codebook.NewStore(pc.CodebookDir(), project.TIGER).Load(y)
		if err != nil {
			a.logger.Warn("year skipped", "year", y, "error", err)
			failed++
			continue
		}
		rep, err := materialize.New(engine, pc, materialize.WithWithinDistance(*within)).Batch(ctx, cb)
		if rep != nil {
			reports = append(reports, rep)
			failed += len(rep.Failed)
		}
		if err != nil {
			return err
		}
	}
	if err := engine.Save(wsPath); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	if err := printJSON(reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d layers or years failed", failed)
	}
	return nil
}

func (a *app) pipeline(engine pipeline.Engine, chunk int) (*pipeline.Pipeline, func(), error) {
	client, err := a.censusClient()
	if err != nil {
		return nil, nil, err
	}
	if chunk <= 0 {
		chunk = client.ChunkSize()
	}
	p := &pipeline.Pipeline{
		Engine: engine,
		Fetchers: map[project.Dataset]censusapi.Fetcher{
			project.ACS: client,
			project.CRE: client.WithDataset("cre"),
		},
		ChunkSize: chunk,
		Logger:    a.logger,
		Codebooks: codebook.NewStore(a.context(a.cfg.Years[0]).CodebookDir(), project.TIGER),
	}

	closeFn := func() {}
	store, err := variables.OpenStore(a.path(a.cfg.DBPath))
	if err != nil {
		a.logger.Warn("variable store unavailable, fields left unaliased", "error", err)
		return p, closeFn, nil
	}
	closeFn = func() { store.Close() }
	mt, err := store.Load()
	switch {
	case errors.Is(err, variables.ErrEmpty):
		a.logger.Warn("variable store empty, fields left unaliased (run variables first)")
	case err != nil:
		closeFn()
		return nil, nil, err
	default:
		p.Variables = mt
	}
	return p, closeFn, nil
}

type requestFlags struct {
	geos    *string
	vars    *string
	dataset *string
	chunk   *int
}

func addRequestFlags(fs *flag.FlagSet) requestFlags {
	return requestFlags{
		geos:    fs.String("geo", "tract", "comma-separated geographies: "+geographyList()),
		vars:    fs.String("vars", "", "comma-separated estimate variables"),
		dataset: fs.String("dataset", "acs", "output container: acs or cr"),
		chunk:   fs.Int("chunk", 0, "variables per request (default: API limit minus the id field)"),
	}
}

func geographyList() string {
	codes := geography.Codes()
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func (f requestFlags) requests() ([]pipeline.Request, error) {
	vars := splitList(*f.vars)
	if len(vars) == 0 {
		return nil, errors.New("-vars is required")
	}
	ds, err := project.ParseDataset(*f.dataset)
	if err != nil {
		return nil, err
	}
	if ds == project.TIGER {
		return nil, errors.New("statistics cannot be written to the tl container")
	}
	var reqs []pipeline.Request
	for _, g := range splitList(*f.geos) {
		code, err := geography.Parse(g)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, pipeline.Request{Geography: code, Variables: vars, Dataset: ds})
	}
	if len(reqs) == 0 {
		return nil, errors.New("-geo is required")
	}
	return reqs, nil
}

func cmdJoin(args []string) error {
	fs, common := newFlagSet("join")
	rf := addRequestFlags(fs)
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	reqs, err := rf.requests()
	if err != nil {
		return err
	}
	engine, wsPath, err := a.workspace()
	if err != nil {
		return err
	}
	p, closeFn, err := a.pipeline(engine, *rf.chunk)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, stop := signalContext()
	defer stop()

	pc := a.context(a.cfg.Years[0])
	var results []*pipeline.AttachResult
	var errs []error
	for _, r := range reqs {
		res, err := p.AttachStatistics(ctx, pc, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Geography, err))
			continue
		}
		results = append(results, res)
	}
	if err := engine.Save(wsPath); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	if err := printJSON(results); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func cmdRun(args []string) error {
	fs, common := newFlagSet("run")
	rf := addRequestFlags(fs)
	within := fs.Float64("within-distance", materialize.DefaultWithinDistance, "buffer applied to the boundary by the within method")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	reqs, err := rf.requests()
	if err != nil {
		return err
	}
	engine, wsPath, err := a.workspace()
	if err != nil {
		return err
	}
	p, closeFn, err := a.pipeline(engine, *rf.chunk)
	if err != nil {
		return err
	}
	defer closeFn()
	p.Materialize = []materialize.Option{materialize.WithWithinDistance(*within)}

	ctx, stop := signalContext()
	defer stop()

	reports, runErr := p.RunYears(ctx, a.context(a.cfg.Years[0]), a.cfg.Years, reqs)
	if err := engine.Save(wsPath); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	if err := printJSON(reports); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	var failed []int
	for _, r := range reports {
		if r.Failed() {
			failed = append(failed, r.Year)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("years with failures: %v", failed)
	}
	return nil
}
