package variables

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrEmpty is returned by Load before any table has been saved.
var ErrEmpty = errors.New("variable store is empty")

// Run is one Save of the master table.
type Run struct {
	ID        string
	CreatedAt int64
	Years     []int
	Missing   []int
	Records   int
}

// Store persists the master table in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open variable store: %w", err)
	}

	const ddl = `
	CREATE TABLE IF NOT EXISTS variables (
		row_id      INTEGER PRIMARY KEY,
		variable    TEXT NOT NULL,
		label       TEXT NOT NULL,
		alias       TEXT NOT NULL,
		table_name  TEXT NOT NULL,
		group_name  TEXT NOT NULL,
		concept     TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT '',
		count_years INTEGER NOT NULL,
		all_years   INTEGER NOT NULL,
		note        TEXT NOT NULL DEFAULT '',
		UNIQUE (variable, label)
	);
	CREATE INDEX IF NOT EXISTS idx_variables_variable ON variables(variable);
	CREATE TABLE IF NOT EXISTS variable_years (
		row_id INTEGER NOT NULL REFERENCES variables(row_id) ON DELETE CASCADE,
		year   INTEGER NOT NULL,
		PRIMARY KEY (row_id, year)
	);
	CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		years      TEXT NOT NULL,
		missing    TEXT NOT NULL,
		records    INTEGER NOT NULL
	);`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create variable tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored table with mt in one transaction and records a run.
func (s *Store) Save(mt *MasterTable) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM variable_years`); err != nil {
		return "", fmt.Errorf("clear years: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM variables`); err != nil {
		return "", fmt.Errorf("clear variables: %w", err)
	}

	insRow, err := tx.Prepare(`INSERT INTO variables
		(row_id, variable, label, alias, table_name, group_name, concept, type, count_years, all_years, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare variables insert: %w", err)
	}
	defer insRow.Close()
	insYear, err := tx.Prepare(`INSERT INTO variable_years (row_id, year) VALUES (?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare years insert: %w", err)
	}
	defer insYear.Close()

	for i, r := range mt.Records {
		id := i + 1
		if _, err := insRow.Exec(id, r.Variable, r.Label, r.Alias, r.Table, r.Group, r.Concept, r.Type,
			r.CountYears, boolInt(r.AllYears), r.Note); err != nil {
			return "", fmt.Errorf("insert %s: %w", r.Variable, err)
		}
		for _, y := range r.Years {
			if _, err := insYear.Exec(id, y); err != nil {
				return "", fmt.Errorf("insert %s/%d: %w", r.Variable, y, err)
			}
		}
	}

	runID := uuid.NewString()
	if _, err := tx.Exec(`INSERT INTO runs (run_id, created_at, years, missing, records) VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UnixNano(), joinInts(mt.Years), joinInts(mt.Missing), len(mt.Records)); err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// LastRun returns the most recent run.
func (s *Store) LastRun() (*Run, error) {
	var (
		r              Run
		years, missing string
	)
	err := s.db.QueryRow(`SELECT run_id, created_at, years, missing, records FROM runs
		ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&r.ID, &r.CreatedAt, &years, &missing, &r.Records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	r.Years = splitInts(years)
	r.Missing = splitInts(missing)
	return &r, nil
}

// Load rebuilds the master table of the last run.
func (s *Store) Load() (*MasterTable, error) {
	run, err := s.LastRun()
	if err != nil {
		return nil, err
	}
	recs, err := s.query(`ORDER BY v.row_id`)
	if err != nil {
		return nil, err
	}
	mt := &MasterTable{Years: run.Years, Missing: run.Missing, Records: recs}
	mt.presence()
	return mt, nil
}

// Lookup returns every row of variable.
func (s *Store) Lookup(variable string) ([]*Record, error) {
	return s.query(`WHERE v.variable = ? ORDER BY v.row_id`, variable)
}

// Search matches term against variable names, labels and aliases.
func (s *Store) Search(term string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	like := "%" + escapeLike(term) + "%"
	return s.query(`WHERE v.variable LIKE ? ESCAPE '\' OR v.label LIKE ? ESCAPE '\' OR v.alias LIKE ? ESCAPE '\'
		ORDER BY v.row_id LIMIT ?`, like, like, like, limit)
}

func (s *Store) query(tail string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(`SELECT v.row_id, v.variable, v.label, v.alias, v.table_name, v.group_name,
		v.concept, v.type, v.count_years, v.all_years, v.note,
		COALESCE((SELECT group_concat(year) FROM (SELECT year FROM variable_years y WHERE y.row_id = v.row_id ORDER BY year)), '')
		FROM variables v `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query variables: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			id    int64
			r     Record
			all   int
			years string
		)
		if err := rows.Scan(&id, &r.Variable, &r.Label, &r.Alias, &r.Table, &r.Group,
			&r.Concept, &r.Type, &r.CountYears, &all, &r.Note, &years); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		r.AllYears = all != 0
		r.Years = splitInts(years)
		sort.Ints(r.Years)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
