package sources

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnknown is returned for a source id with no row.
var ErrUnknown = errors.New("source not registered")

// Source is a row of the sources table.
type Source struct {
	ID          string  `json:"id"`
	Dataset     string  `json:"dataset"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	License     string  `json:"license"`
	LastCheck   *int64  `json:"last_check,omitempty"`
	LastStatus  *int    `json:"last_status,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
}

// Healthy reports whether the last check answered 2xx or 3xx.
func (s Source) Healthy() bool {
	return s.LastStatus != nil && *s.LastStatus >= 200 && *s.LastStatus < 400
}

// DB stores source URLs and availability in SQLite.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the database at path and ensures the sources
// table exists.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sources db: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS sources (
		source_id    TEXT PRIMARY KEY,
		dataset      TEXT NOT NULL,
		description  TEXT NOT NULL,
		source_url   TEXT NOT NULL,
		license      TEXT NOT NULL DEFAULT '',
		last_check   INTEGER,
		last_status  INTEGER,
		last_error   TEXT,
		updated_at   INTEGER NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sources table: %w", err)
	}
	return &DB{db: db}, nil
}

func (s *DB) Close() error { return s.db.Close() }

// Seed inserts a row per adapter. Existing rows are left untouched, so a
// URL changed with SetURL survives restarts.
func (s *DB) Seed(adapters []Adapter) error {
	const q = `INSERT OR IGNORE INTO sources
		(source_id, dataset, description, source_url, license, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	for _, a := range adapters {
		if _, err := s.db.Exec(q, a.ID(), string(a.Dataset()), a.Description(), a.DefaultURL(), a.License(), now); err != nil {
			return fmt.Errorf("seed %s: %w", a.ID(), err)
		}
	}
	return nil
}

// GetURL returns the current URL of source id.
func (s *DB) GetURL(id string) (string, error) {
	var u string
	err := s.db.QueryRow(`SELECT source_url FROM sources WHERE source_id = ?`, id).Scan(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	if err != nil {
		return "", fmt.Errorf("get url for %s: %w", id, err)
	}
	return u, nil
}

// SetURL overrides the URL of source id.
func (s *DB) SetURL(id, u string) error {
	res, err := s.db.Exec(
		`UPDATE sources SET source_url = ?, updated_at = ? WHERE source_id = ?`,
		u, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set url for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return nil
}

// UpdateCheck records the outcome of an availability probe.
func (s *DB) UpdateCheck(id string, status int, checkErr string) error {
	var errPtr *string
	if checkErr != "" {
		errPtr = &checkErr
	}
	_, err := s.db.Exec(
		`UPDATE sources SET last_check = ?, last_status = ?, last_error = ? WHERE source_id = ?`,
		time.Now().Unix(), status, errPtr, id,
	)
	if err != nil {
		return fmt.Errorf("update check for %s: %w", id, err)
	}
	return nil
}

// List returns every source ordered by id.
func (s *DB) List() ([]Source, error) {
	rows, err := s.db.Query(`SELECT source_id, dataset, description, source_url, license,
		last_check, last_status, last_error, updated_at
		FROM sources ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Dataset, &src.Description, &src.URL,
			&src.License, &src.LastCheck, &src.LastStatus, &src.LastError, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
