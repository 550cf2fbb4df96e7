// Package censusapi is the boundary to the Census statistics REST API: a
// tabular fetch of {year, variables, geography} returning headers and rows,
// plus the chunking needed to stay under the per-request variable ceiling.
package censusapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/variables"
	"github.com/joho/godotenv"
)

// IDField is the geographic identifier column requested with every chunk.
const IDField = "GEO_ID"

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("census api key not set")

// Request is one tabular fetch.
type Request struct {
	Year      int
	Variables []string
	Geography geography.Code
	State     string
	County    string
}

// Result is a decoded API response. Null cells are "".
type Result struct {
	Headers []string
	Rows    [][]string
}

// Fetcher performs a tabular fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// LoadAPIKey reads the key from env after loading the given dotenv files.
// Missing dotenv files are ignored; malformed ones and a missing key are not.
func LoadAPIKey(env string, files ...string) (string, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("load %s: %w", f, err)
		}
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("%w (%s)", ErrMissingAPIKey, env)
	}
	return key, nil
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Dataset           string
	APIKey            string
	MaxVariables      int
	Timeout           time.Duration
	Retry             fetch.Retry
	RequestsPerSecond float64
}

// Client talks to one API dataset (acs/acs5, cre, ...).
type Client struct {
	baseURL string
	dataset string
	key     string
	max     int
	http    *fetch.Client
	logger  *slog.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.MaxVariables < 2 {
		return nil, fmt.Errorf("max variables must be at least 2, got %d", cfg.MaxVariables)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		dataset: strings.Trim(cfg.Dataset, "/"),
		key:     cfg.APIKey,
		max:     cfg.MaxVariables,
		http:    fetch.New(cfg.Timeout).WithRetry(cfg.Retry).WithRate(cfg.RequestsPerSecond),
		logger:  logger,
	}, nil
}

// WithDataset returns a copy of c targeting another dataset.
func (c *Client) WithDataset(dataset string) *Client {
	cp := *c
	cp.dataset = strings.Trim(dataset, "/")
	return &cp
}

// ChunkSize is the number of variables per request, leaving room for IDField.
func (c *Client) ChunkSize() int { return c.max - 1 }

// URL builds the request URL of req.
func (c *Client) URL(req Request) (string, error) {
	forClause, inClause, err := geography.Clauses(req.Geography, req.State, req.County)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("get", strings.Join(req.Variables, ","))
	q.Set("for", forClause)
	if inClause != "" {
		q.Set("in", inClause)
	}
	q.Set("key", c.key)
	return fmt.Sprintf("%s/%d/%s?%s", c.baseURL, req.Year, c.dataset, q.Encode()), nil
}

// Fetch performs one request. More variables than the ceiling is an error.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	if len(req.Variables) > c.max {
		return nil, fmt.Errorf("%d variables exceed the per-request ceiling of %d", len(req.Variables), c.max)
	}
	u, err := c.URL(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("census fetch", "year", req.Year, "dataset", c.dataset, "geography", req.Geography, "variables", len(req.Variables))
	var raw [][]*string
	if err := c.http.GetJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("census %d %s: %w", req.Year, req.Geography, redact(err, c.key))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("census %d %s: empty response", req.Year, req.Geography)
	}

	res := &Result{Headers: cells(raw[0])}
	for _, row := range raw[1:] {
		res.Rows = append(res.Rows, cells(row))
	}
	return res, nil
}

// FetchVariables downloads the variable listing of year.
func (c *Client) FetchVariables(ctx context.Context, year int) (variables.Listing, error) {
	u := fmt.Sprintf("%s/%d/%s/variables.json", c.baseURL, year, c.dataset)
	body, err := c.http.GetBytes(ctx, u)
	if err != nil {
		return variables.Listing{}, err
	}
	return variables.ParseListing(year, bytes.NewReader(body))
}

func cells(row []*string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

// redact strips the API key from error text, which embeds the request URL.
func redact(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}

var _ Fetcher = (*Client)(nil)
var _ variables.Source = (*Client)(nil)
