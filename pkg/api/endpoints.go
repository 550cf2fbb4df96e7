// Package api exposes the pipeline's stored artifacts read-only: codebooks,
// the reconciled variable table, the crawled catalog and the source
// registry. HTTP and MCP share the same kit.Endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hazyhaar/censusgdb/pkg/catalog"
	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/kit"
	"github.com/hazyhaar/censusgdb/pkg/project"
	"github.com/hazyhaar/censusgdb/pkg/sources"
	"github.com/hazyhaar/censusgdb/pkg/variables"
)

var (
	// ErrNotFound maps to 404.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest maps to 400.
	ErrBadRequest = errors.New("bad request")
)

// MaxSearchResults caps a variable search.
const MaxSearchResults = 200

// Deps are the stores read by the endpoints. Nil stores make their
// endpoints fail with ErrNotFound.
type Deps struct {
	CodebookDir string
	CatalogPath string
	Variables   *variables.Store
	Sources     *sources.DB
	Logger      *slog.Logger
}

type codebookReq struct {
	Dataset string
	Year    string
}

type variableReq struct {
	Name string
}

type searchReq struct {
	Term  string
	Limit int
}

type catalogReq struct {
	Year int
}

type variablesResponse struct {
	Records []*variables.Record `json:"records"`
}

type catalogResponse struct {
	Entries []catalog.Entry `json:"entries"`
}

type sourcesResponse struct {
	Sources []sources.Source `json:"sources"`
}

// endpoints holds one kit.Endpoint per action, wrapped with logging.
type endpoints struct {
	codebook    kit.Endpoint
	variable    kit.Endpoint
	search      kit.Endpoint
	catalog     kit.Endpoint
	listSources kit.Endpoint
}

func newEndpoints(d Deps) *endpoints {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(logger, name), kit.Recover())(e)
	}
	return &endpoints{
		codebook:    wrap("codebook", codebookEndpoint(d.CodebookDir)),
		variable:    wrap("variable", variableEndpoint(d.Variables)),
		search:      wrap("search_variables", searchEndpoint(d.Variables)),
		catalog:     wrap("catalog", catalogEndpoint(d.CatalogPath)),
		listSources: wrap("sources", sourcesEndpoint(d.Sources)),
	}
}

func codebookEndpoint(dir string) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*codebookReq)
		ds, err := project.ParseDataset(req.Dataset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		year, err := strconv.Atoi(req.Year)
		if err != nil || year <= 0 {
			return nil, fmt.Errorf("%w: invalid year %q", ErrBadRequest, req.Year)
		}
		if dir == "" {
			return nil, fmt.Errorf("%w: no codebook directory", ErrNotFound)
		}
		return codebook.NewStore(dir, ds).Load(year)
	}
}

func variableEndpoint(store *variables.Store) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*variableReq)
		if store == nil {
			return nil, fmt.Errorf("%w: no variable store", ErrNotFound)
		}
		if !variables.IsEstimate(req.Name) {
			return nil, fmt.Errorf("%w: %q is not an estimate variable name", ErrBadRequest, req.Name)
		}
		recs, err := store.Lookup(req.Name)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("%w: variable %s", ErrNotFound, req.Name)
		}
		return variablesResponse{Records: recs}, nil
	}
}

func searchEndpoint(store *variables.Store) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*searchReq)
		if store == nil {
			return nil, fmt.Errorf("%w: no variable store", ErrNotFound)
		}
		if req.Term == "" {
			return nil, fmt.Errorf("%w: missing search term", ErrBadRequest)
		}
		if req.Limit > MaxSearchResults {
			req.Limit = MaxSearchResults
		}
		recs, err := store.Search(req.Term, req.Limit)
		if err != nil {
			return nil, err
		}
		return variablesResponse{Records: recs}, nil
	}
}

func catalogEndpoint(path string) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*catalogReq)
		if path == "" {
			return nil, fmt.Errorf("%w: no catalog", ErrNotFound)
		}
		cat, err := catalog.Load(path)
		if err != nil {
			return nil, err
		}
		if req.Year > 0 {
			return catalogResponse{Entries: cat.EntriesForYear(req.Year)}, nil
		}
		return catalogResponse{Entries: cat.Entries()}, nil
	}
}

func sourcesEndpoint(db *sources.DB) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		if db == nil {
			return nil, fmt.Errorf("%w: no sources database", ErrNotFound)
		}
		srcs, err := db.List()
		if err != nil {
			return nil, err
		}
		return sourcesResponse{Sources: srcs}, nil
	}
}
