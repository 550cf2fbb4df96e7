package codebook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/project"
)

// Store keeps one codebook document per year in Dir, named <dataset><year>.json.
type Store struct {
	Dir     string
	Dataset project.Dataset
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, d project.Dataset) *Store {
	return &Store{Dir: dir, Dataset: d}
}

// Path is the document path for year.
func (s *Store) Path(year int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%d.json", s.Dataset, year))
}

// Load reads and validates the codebook of year. A missing document wraps
// docstore.ErrMissing; a malformed one wraps ErrInvalid.
func (s *Store) Load(year int) (*Codebook, error) {
	var cb Codebook
	if err := docstore.Read(s.Path(year), &cb); err != nil {
		return nil, fmt.Errorf("load codebook %d: %w", year, err)
	}
	if err := cb.Validate(); err != nil {
		return nil, fmt.Errorf("load codebook %d: %w", year, err)
	}
	if cb.Year != year {
		return nil, fmt.Errorf("load codebook %d: %w: document is for %d", year, ErrInvalid, cb.Year)
	}
	return &cb, nil
}

// Save validates cb and replaces the document of year.
func (s *Store) Save(year int, cb *Codebook) error {
	if cb.Year != year {
		return fmt.Errorf("save codebook %d: %w: codebook is for %d", year, ErrInvalid, cb.Year)
	}
	if err := cb.Validate(); err != nil {
		return fmt.Errorf("save codebook %d: %w", year, err)
	}
	return docstore.WriteAtomic(s.Path(year), cb)
}

// Years lists the years with a stored codebook, ascending.
func (s *Store) Years() ([]int, error) {
	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := string(s.Dataset)
	var years []int
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}
