package censusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/censusgdb/pkg/gis"
)

// ErrNoData is returned when every chunk of a fetch failed.
var ErrNoData = errors.New("no chunk returned data")

// Merged is the per-identifier union of chunk responses.
type Merged struct {
	// Fields is IDField, then the requested variables in request order, then
	// any other returned columns in ascending order.
	Fields  []string
	IDs     []string
	Records map[string]map[string]string
	// FailedChunks counts chunks skipped after an error.
	FailedChunks int
	// Inconsistent lists identifiers that did not receive every field.
	Inconsistent []string
}

// Table converts m to an attribute table. Absent fields are nulls.
func (m *Merged) Table(name string) *gis.Table {
	t := &gis.Table{Name: name, IDField: IDField, Fields: append([]string(nil), m.Fields...)}
	for _, id := range m.IDs {
		src := m.Records[id]
		rec := make(gis.Record, len(m.Fields))
		for _, f := range m.Fields {
			if v, ok := src[f]; ok {
				rec[f] = v
			} else {
				rec[f] = nil
			}
		}
		t.Records = append(t.Records, rec)
	}
	return t
}

// FetchChunked splits req.Variables into chunks of chunkSize, fetches each
// with IDField prepended and merges the rows by identifier. A failing chunk
// is logged and skipped. Merging never replaces a value with a blank.
func FetchChunked(ctx context.Context, f Fetcher, req Request, chunkSize int, logger *slog.Logger) (*Merged, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	vars := dedupe(req.Variables)
	if len(vars) == 0 {
		return nil, errors.New("no variables requested")
	}

	m := &Merged{Records: make(map[string]map[string]string)}
	requested := make(map[string]bool, len(vars)+1)
	requested[IDField] = true
	for _, v := range vars {
		requested[v] = true
	}
	extra := make(map[string]bool)

	chunks := 0
	for start := 0; start < len(vars); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+chunkSize, len(vars))
		chunks++

		sub := req
		sub.Variables = append([]string{IDField}, vars[start:end]...)
		res, err := f.Fetch(ctx, sub)
		if err == nil {
			err = m.merge(res, extra, requested)
		}
		if err != nil {
			m.FailedChunks++
			logger.Warn("census chunk skipped",
				"year", req.Year,
				"geography", req.Geography,
				"chunk", chunks,
				"variables", vars[start:end],
				"error", err,
			)
		}
	}
	if m.FailedChunks == chunks {
		return nil, fmt.Errorf("census %d %s: %w", req.Year, req.Geography, ErrNoData)
	}

	m.Fields = append([]string{IDField}, vars...)
	rest := make([]string, 0, len(extra))
	for k := range extra {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	m.Fields = append(m.Fields, rest...)

	for _, id := range m.IDs {
		if len(m.Records[id]) != len(m.Fields) {
			m.Inconsistent = append(m.Inconsistent, id)
		}
	}
	if n := len(m.Inconsistent); n > 0 {
		logger.Warn("census records with inconsistent variable counts",
			"year", req.Year,
			"geography", req.Geography,
			"records", n,
			"expected_fields", len(m.Fields),
		)
	}
	return m, nil
}

func (m *Merged) merge(res *Result, extra, requested map[string]bool) error {
	idCol := -1
	for i, h := range res.Headers {
		if h == IDField {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return fmt.Errorf("response has no %s column", IDField)
	}
	for n, row := range res.Rows {
		if len(row) != len(res.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", n+1, len(row), len(res.Headers))
		}
	}
	for _, h := range res.Headers {
		if !requested[h] {
			extra[h] = true
		}
	}
	for _, row := range res.Rows {
		id := row[idCol]
		rec, ok := m.Records[id]
		if !ok {
			rec = make(map[string]string, len(res.Headers))
			m.Records[id] = rec
			m.IDs = append(m.IDs, id)
		}
		for i, h := range res.Headers {
			v := row[i]
			if old, seen := rec[h]; seen && v == "" && old != "" {
				continue
			}
			rec[h] = v
		}
	}
	return nil
}

func dedupe(vars []string) []string {
	seen := make(map[string]bool, len(vars))
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if v == "" || v == IDField || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
