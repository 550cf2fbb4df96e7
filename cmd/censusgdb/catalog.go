package main

import (
	"fmt"
	"os"

	"github.com/hazyhaar/censusgdb/pkg/catalog"
	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

func (a *app) crawler() *catalog.Crawler {
	opts := []catalog.Option{
		catalog.WithClient(fetch.New(a.cfg.Crawl.Timeout)),
		catalog.WithLogger(a.logger),
	}
	if len(a.cfg.Crawl.Exclude) > 0 {
		opts = append(opts, catalog.WithExclusions(a.cfg.Crawl.Exclude))
	}
	return catalog.NewCrawler(opts...)
}

func cmdCrawl(args []string) error {
	fs, common := newFlagSet("crawl")
	base := fs.String("url", "", "REST services root (default from config)")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	if *base == "" {
		*base = a.cfg.Crawl.BaseURL
	}
	ctx, stop := signalContext()
	defer stop()

	cat, err := a.crawler().Crawl(ctx, *base)
	if err != nil {
		return err
	}
	path := a.context(a.cfg.Years[0]).CatalogPath()
	if err := cat.Save(path); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	a.logger.Info("catalog saved", "path", path, "series", len(cat.Series), "standalone", len(cat.Standalone), "entries", len(cat.Entries()))
	return nil
}

func cmdDiscover(args []string) error {
	fs, common := newFlagSet("discover")
	base := fs.String("url", "", "TIGERweb HTML services root (default from config)")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	if *base == "" {
		*base = a.cfg.Crawl.BaseURL
	}
	ctx, stop := signalContext()
	defer stop()

	labeled, err := a.crawler().DiscoverLabeledLayers(ctx, *base)
	if err != nil {
		return err
	}
	path := a.context(a.cfg.Years[0]).LabeledPath()
	if err := labeled.Save(path); err != nil {
		return fmt.Errorf("save labeled layers: %w", err)
	}
	a.logger.Info("labeled layers saved", "path", path, "services", len(labeled))
	return nil
}

// cmdCodebook generates one codebook per year. Existing codebooks are
// curated by hand and are only replaced with -force.
func cmdCodebook(args []string) error {
	fs, common := newFlagSet("codebook")
	from := fs.String("from", "files", "build from downloaded files (files) or the crawled catalog (catalog)")
	tplPath := fs.String("templates", "", "YAML template set (default: embedded)")
	force := fs.Bool("force", false, "replace existing codebooks")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	tpl, err := loadTemplates(*tplPath)
	if err != nil {
		return err
	}

	var cat *catalog.Catalog
	if *from == "catalog" {
		if cat, err = catalog.Load(a.context(a.cfg.Years[0]).CatalogPath()); err != nil {
			return fmt.Errorf("load catalog (run crawl first): %w", err)
		}
	} else if *from != "files" {
		return fmt.Errorf("unknown -from %q", *from)
	}

	for _, y := range a.cfg.Years {
		pc := a.context(y)
		store := codebook.NewStore(pc.CodebookDir(), project.TIGER)
		if docstore.Exists(store.Path(y)) && !*force {
			a.logger.Warn("codebook exists, skipped", "year", y, "path", store.Path(y))
			continue
		}

		var (
			cb  *codebook.Codebook
			rep codebook.Report
		)
		if cat != nil {
			cb, rep = codebook.BuildFromCatalog(y, cat.EntriesForYear(y), tpl)
		} else {
			files, err := codebook.ScanDir(pc.SourceDir(project.TIGER))
			if err != nil {
				a.logger.Warn("source folder unreadable, year skipped", "year", y, "error", err)
				continue
			}
			cb, rep = codebook.Build(y, files, tpl)
		}
		if !rep.Empty() {
			a.logger.Warn("codebook inputs not placed", "year", y, "unmatched", rep.Unmatched, "duplicates", rep.Duplicates)
		}
		if len(cb.Entries) == 0 {
			a.logger.Warn("no codebook entries, year skipped", "year", y)
			continue
		}
		if err := store.Save(y, cb); err != nil {
			return err
		}
		a.logger.Info("codebook saved", "year", y, "path", store.Path(y), "entries", len(cb.Entries))
	}
	return nil
}

func loadTemplates(path string) (*codebook.Templates, error) {
	if path == "" {
		return codebook.DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return codebook.ParseTemplates(data)
}
