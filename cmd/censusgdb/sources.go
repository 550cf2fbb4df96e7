package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/sources"
)

// openSources opens the source registry and seeds the default URLs.
func (a *app) openSources() (*sources.DB, error) {
	path := a.sourcesDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sources.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.Seed(sources.All()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed sources: %w", err)
	}
	return db, nil
}

func cmdSources(args []string) error {
	fs, common := newFlagSet("sources")
	set := fs.String("set", "", "override a source URL: <id>=<url>")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	db, err := a.openSources()
	if err != nil {
		return err
	}
	defer db.Close()

	if *set != "" {
		id, u, ok := strings.Cut(*set, "=")
		if !ok || u == "" {
			return fmt.Errorf("-set wants <id>=<url>, got %q", *set)
		}
		if err := db.SetURL(id, u); err != nil {
			return err
		}
		a.logger.Info("source URL updated", "source", id, "url", u)
	}

	srcs, err := db.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATASET\tSTATUS\tURL\tDESCRIPTION")
	for _, s := range srcs {
		status := "-"
		if s.LastStatus != nil {
			status = fmt.Sprint(*s.LastStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Dataset, status, s.URL, s.Description)
	}
	return w.Flush()
}

func cmdCheck(args []string) error {
	fs, common := newFlagSet("check")
	interval := fs.Duration("interval", 0, "keep probing at this interval (0: probe once)")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	db, err := a.openSources()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, stop := signalContext()
	defer stop()

	checker := sources.NewChecker(db, a.logger, *interval)
	if *interval > 0 {
		checker.Start(ctx)
		return nil
	}
	rep := checker.CheckAll(ctx)
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d sources unreachable", rep.Failed, rep.OK+rep.Failed)
	}
	return nil
}

// cmdFetch runs a source adapter for every configured year.
func cmdFetch(args []string) error {
	fs, common := newFlagSet("fetch-tiger")
	id := fs.String("source", "tiger-line", "source to fetch (see the sources command)")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	db, err := a.openSources()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, stop := signalContext()
	defer stop()

	client := fetch.New(10 * time.Minute).
		WithRetry(a.cfg.Census.Retry).
		WithRate(a.cfg.Census.RequestsPerSecond)

	var errs []error
	for _, y := range a.cfg.Years {
		env := sources.Env{Project: a.context(y), Client: client, Logger: a.logger}
		if err := sources.Run(ctx, db, *id, env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("fetch failed", "source", *id, "year", y, "error", err)
			errs = append(errs, fmt.Errorf("%d: %w", y, err))
		}
	}
	return errors.Join(errs...)
}
