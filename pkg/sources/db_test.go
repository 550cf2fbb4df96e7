package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/censusgdb/pkg/project"
)

// fakeAdapter implements Adapter for seeding.
type fakeAdapter struct {
	id, desc, url string
	fetched       []string
	err           error
}

func (f *fakeAdapter) ID() string               { return f.id }
func (f *fakeAdapter) Dataset() project.Dataset { return project.TIGER }
func (f *fakeAdapter) Description() string      { return f.desc }
func (f *fakeAdapter) DefaultURL() string       { return f.url }
func (f *fakeAdapter) License() string          { return "Public Domain" }
func (f *fakeAdapter) Fetch(_ context.Context, _ Env, u string) error {
	f.fetched = append(f.fetched, u)
	return f.err
}

func tempDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "sources.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_CreatesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
	srcs, err := db.List()
	if err != nil {
		t.Fatalf("List on empty db: %v", err)
	}
	if len(srcs) != 0 {
		t.Fatalf("expected 0 sources, got %d", len(srcs))
	}
}

func TestSeedKeepsOverrides(t *testing.T) {
	db := tempDB(t)

	if err := db.Seed([]Adapter{
		&fakeAdapter{id: "a1", desc: "one", url: "https://example.com/a1"},
		&fakeAdapter{id: "a2", desc: "two", url: "https://example.com/a2"},
	}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := db.SetURL("a1", "https://mirror.example.com/a1"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	if err := db.Seed([]Adapter{&fakeAdapter{id: "a1", url: "https://changed.example.com/a1"}}); err != nil {
		t.Fatalf("Seed again: %v", err)
	}

	u, err := db.GetURL("a1")
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if u != "https://mirror.example.com/a1" {
		t.Fatalf("re-seed overwrote the override: %s", u)
	}
}

func TestUnknownSource(t *testing.T) {
	db := tempDB(t)
	if _, err := db.GetURL("nope"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("GetURL err = %v, want ErrUnknown", err)
	}
	if err := db.SetURL("nope", "https://example.com"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("SetURL err = %v, want ErrUnknown", err)
	}
}

func TestUpdateCheck(t *testing.T) {
	db := tempDB(t)
	if err := db.Seed([]Adapter{&fakeAdapter{id: "a1", url: "https://example.com/a1"}}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := db.UpdateCheck("a1", 200, ""); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}
	srcs, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	src := srcs[0]
	if !src.Healthy() || src.LastCheck == nil || src.LastError != nil {
		t.Fatalf("unexpected row after 200: %+v", src)
	}
	if src.Dataset != "tl" {
		t.Fatalf("dataset = %q, want tl", src.Dataset)
	}

	if err := db.UpdateCheck("a1", 404, "not found"); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}
	srcs, _ = db.List()
	src = srcs[0]
	if src.Healthy() || src.LastError == nil || *src.LastError != "not found" {
		t.Fatalf("unexpected row after 404: %+v", src)
	}
}

func TestListOrder(t *testing.T) {
	db := tempDB(t)
	if err := db.Seed([]Adapter{
		&fakeAdapter{id: "z-last", url: "https://example.com/z"},
		&fakeAdapter{id: "a-first", url: "https://example.com/a"},
	}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	srcs, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(srcs) != 2 || srcs[0].ID != "a-first" {
		t.Fatalf("unexpected order: %+v", srcs)
	}
}

func TestRegistry(t *testing.T) {
	want := []string{"census-acs5", "census-cre", "tiger-line", "tigerweb"}
	all := All()
	if len(all) != len(want) {
		t.Fatalf("registered %d adapters, want %d", len(all), len(want))
	}
	for i, a := range all {
		if a.ID() != want[i] {
			t.Errorf("adapter %d = %s, want %s", i, a.ID(), want[i])
		}
	}
	if _, err := Get("sirene"); err == nil {
		t.Error("Get(sirene) should fail")
	}
}

func TestRunUsesStoredURL(t *testing.T) {
	db := tempDB(t)
	fa := &fakeAdapter{id: "test-run", url: "https://example.com/default"}
	Register(fa)
	t.Cleanup(func() {
		registryMu.Lock()
		delete(adapters, fa.id)
		registryMu.Unlock()
	})

	if err := db.Seed([]Adapter{fa}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := db.SetURL("test-run", "https://mirror.example.com"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	if err := Run(context.Background(), db, "test-run", Env{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fa.fetched) != 1 || fa.fetched[0] != "https://mirror.example.com" {
		t.Fatalf("fetched %v", fa.fetched)
	}

	fa.err = errors.New("boom")
	if err := Run(context.Background(), db, "test-run", Env{}); err == nil {
		t.Fatal("Run should surface the adapter error")
	}
}
