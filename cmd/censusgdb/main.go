package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/hazyhaar/censusgdb/pkg/censusapi"
	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/gis/memgis"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

const version = "0.1.0"

type command struct {
	name string
	help string
	run  func(args []string) error
}

var commands = []command{
	{name: "crawl", help: "Crawl the TIGERweb REST catalog", run: cmdCrawl},
	{name: "discover", help: "Discover labeled layers from the TIGERweb HTML pages", run: cmdDiscover},
	{name: "codebook", help: "Generate per-year codebooks from the catalog or downloaded files", run: cmdCodebook},
	{name: "variables", help: "Reconcile ACS variable listings across years", run: cmdVariables},
	{name: "materialize", help: "Materialize the codebook layers of each year", run: cmdMaterialize},
	{name: "join", help: "Attach statistics to one geography for one year", run: cmdJoin},
	{name: "run", help: "Materialize and attach statistics for every year", run: cmdRun},
	{name: "sources", help: "List or override registered data sources", run: cmdSources},
	{name: "check", help: "Probe every registered source", run: cmdCheck},
	{name: "fetch-tiger", help: "Download a source into the per-year source folders", run: cmdFetch},
	{name: "serve", help: "Start the HTTP query API", run: cmdServe},
	{name: "mcp", help: "Serve the query tools over MCP stdio", run: cmdMCP},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "censusgdb %s: %v\n", c.name, err)
			os.Exit(1)
		}
		return
	}
	if os.Args[1] == "version" {
		fmt.Println("censusgdb", version)
		return
	}
	usage()
	os.Exit(1)
}

func usage() {
	var b strings.Builder
	b.WriteString("Usage: censusgdb <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.name, c.help)
	}
	b.WriteString("\nEvery command accepts -config (default config.yaml) and -years.\n")
	fmt.Fprint(os.Stderr, b.String())
}

// app is the state shared by every command once flags are parsed.
type app struct {
	cfg    project.Config
	logger *slog.Logger
}

type commonFlags struct {
	config *string
	years  *string
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, &commonFlags{
		config: fs.String("config", "config.yaml", "path to config file"),
		years:  fs.String("years", "", "years to process, e.g. 2019,2020 or 2015-2020 (default from config)"),
	}
}

// load reads the config and builds the logger at the configured level.
func (f *commonFlags) load() (*app, error) {
	boot := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := project.LoadConfig(*f.config, boot)
	if err != nil {
		return nil, err
	}
	if *f.years != "" {
		ys, err := parseYears(*f.years)
		if err != nil {
			return nil, err
		}
		cfg.Years = ys
	}
	if len(cfg.Years) == 0 {
		return nil, errors.New("no years configured")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: project.ParseLevel(cfg.LogLevel)}))
	return &app{cfg: cfg, logger: logger}, nil
}

// parseYears accepts a comma-separated list of years and inclusive ranges.
func parseYears(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				return nil, fmt.Errorf("invalid year range %q", part)
			}
		}
		for y := a; y <= b; y++ {
			seen[y] = true
		}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) context(year int) project.Context {
	return a.cfg.Context(year, a.logger)
}

// path resolves p against the project root unless it is absolute.
func (a *app) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.cfg.Root, p)
}

func (a *app) sourcesDBPath() string {
	return filepath.Join(a.cfg.Root, "sources", "sources.db")
}

// workspace loads the GIS workspace snapshot. A missing snapshot yields an
// empty workspace.
func (a *app) workspace() (*memgis.Engine, string, error) {
	path := a.context(a.cfg.Years[0]).WorkspacePath()
	e := memgis.New()
	if err := e.Load(path); err != nil && !errors.Is(err, docstore.ErrMissing) {
		return nil, "", fmt.Errorf("load workspace: %w", err)
	}
	return e, path, nil
}

func (a *app) censusClient() (*censusapi.Client, error) {
	c := a.cfg.Census
	key, err := censusapi.LoadAPIKey(c.KeyEnv, ".env.local", filepath.Join(a.cfg.Root, ".env.local"))
	if err != nil {
		return nil, err
	}
	return censusapi.NewClient(censusapi.Config{
		BaseURL:           c.BaseURL,
		Dataset:           c.Dataset,
		APIKey:            key,
		MaxVariables:      c.MaxVariables,
		Timeout:           c.Timeout,
		Retry:             c.Retry,
		RequestsPerSecond: c.RequestsPerSecond,
	}, a.logger)
}

// printJSON writes v to stdout in the document format.
func printJSON(v any) error {
	data, err := docstore.Marshal(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
