// Package sources keeps the registry of remote sources the pipeline pulls
// from, their persisted URLs and availability, and the downloaders that fill
// the per-year source folders.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// Env is what an adapter needs to fetch into the project tree.
type Env struct {
	Project project.Context
	Client  *fetch.Client
	Logger  *slog.Logger
}

func (e Env) log() *slog.Logger {
	if e.Logger == nil {
		return e.Project.Log()
	}
	return e.Logger
}

func (e Env) client() *fetch.Client {
	if e.Client == nil {
		return fetch.New(0)
	}
	return e.Client
}

// Adapter is one remote source.
type Adapter interface {
	// ID is the unique key of the source (e.g. "tiger-line").
	ID() string
	// Dataset is the container the source feeds.
	Dataset() project.Dataset
	Description() string
	// DefaultURL seeds the sources table.
	DefaultURL() string
	License() string
	// Fetch pulls the source for env.Project.Year from sourceURL.
	Fetch(ctx context.Context, env Env, sourceURL string) error
}

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// Register adds an adapter to the global registry.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	adapters[a.ID()] = a
}

// Get returns a registered adapter by ID.
func Get(id string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[id]
	if !ok {
		return nil, fmt.Errorf("unknown source: %q", id)
	}
	return a, nil
}

// All returns the registered adapters sorted by ID.
func All() []Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Run fetches source id using the URL stored in db.
func Run(ctx context.Context, db *DB, id string, env Env) error {
	a, err := Get(id)
	if err != nil {
		return err
	}
	u, err := db.GetURL(id)
	if err != nil {
		return err
	}
	env.log().Info("fetching source", "source", id, "year", env.Project.Year, "url", u)
	if err := a.Fetch(ctx, env, u); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}
