package variables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// Source yields the raw variable listing of a year.
type Source interface {
	FetchVariables(ctx context.Context, year int) (Listing, error)
}

// ParseListing decodes a Census variables.json document. Null labels become "".
func ParseListing(year int, r io.Reader) (Listing, error) {
	var doc struct {
		Variables map[string]Variable `json:"variables"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Listing{}, fmt.Errorf("decode variables %d: %w", year, err)
	}
	if doc.Variables == nil {
		return Listing{}, fmt.Errorf("decode variables %d: no variables object", year)
	}
	for name, v := range doc.Variables {
		v.Name = name
		doc.Variables[name] = v
	}
	return Listing{Year: year, Variables: doc.Variables}, nil
}

// ErrNoYears is returned when no requested year could be fetched.
var ErrNoYears = errors.New("no variable listing could be fetched")

// Reconciler fetches per-year listings and reconciles them.
type Reconciler struct {
	src    Source
	logger *slog.Logger
}

// NewReconciler returns a reconciler reading from src.
func NewReconciler(src Source, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{src: src, logger: logger}
}

// Build fetches every year and reconciles the successful ones. A failing year
// is logged and listed in MasterTable.Missing.
func (r *Reconciler) Build(ctx context.Context, years []int) (*MasterTable, error) {
	ys := append([]int(nil), years...)
	sort.Ints(ys)

	var listings []Listing
	var missing []int
	for _, y := range ys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := r.src.FetchVariables(ctx, y)
		if err != nil {
			r.logger.Warn("variable listing skipped", "year", y, "error", err)
			missing = append(missing, y)
			continue
		}
		l.Year = y
		r.logger.Info("variable listing fetched", "year", y, "variables", len(l.Variables))
		listings = append(listings, l)
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("%w (years %v)", ErrNoYears, ys)
	}

	mt := Reconcile(listings...)
	mt.Missing = missing

	var forked int
	for _, rec := range mt.Records {
		if rec.Note != "" {
			forked++
		}
	}
	r.logger.Info("variables reconciled",
		"rows", len(mt.Records),
		"years", mt.Years,
		"missing", missing,
		"label_forks", forked,
	)
	return mt, nil
}
