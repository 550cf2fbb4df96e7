package project

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestContextPaths(t *testing.T) {
	c := Context{Root: "/data", Year: 2020, State: "06", County: "059"}

	if got := c.GDBName(TIGER); got != "tl2020.gdb" {
		t.Errorf("GDBName(TIGER) = %q", got)
	}
	if got := c.GDBName(ACS); got != "acs2020.gdb" {
		t.Errorf("GDBName(ACS) = %q", got)
	}
	if got := c.FeatureClass(CRE, "CT"); got != filepath.Join("/data", "gdb", "cr2020.gdb", "CT") {
		t.Errorf("FeatureClass = %q", got)
	}
	if got := c.WithYear(2021).GDBName(TIGER); got != "tl2021.gdb" {
		t.Errorf("WithYear GDBName = %q", got)
	}
	if c.Year != 2020 {
		t.Error("WithYear mutated the receiver")
	}
	if got := c.CountyFIPS(); got != "06059" {
		t.Errorf("CountyFIPS = %q", got)
	}
}

func TestParseDataset(t *testing.T) {
	for _, s := range []string{"tl", "acs", "cr"} {
		if _, err := ParseDataset(s); err != nil {
			t.Errorf("ParseDataset(%q): %v", s, err)
		}
	}
	if _, err := ParseDataset("shp"); err == nil {
		t.Error("expected error for unknown dataset")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), slog.Default())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Census.MaxVariables != 50 || cfg.WKID != 3857 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`root: /srv/census
years: [2019, 2020, 2021]
state: "36"
county: "061"
wkid: 2263
census:
  max_variables: 25
  timeout: 15s
  retry:
    attempts: 3
    backoff: 2s
crawl:
  exclude: ["Labels"]
`), 0o644)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Root != "/srv/census" || len(cfg.Years) != 3 || cfg.State != "36" || cfg.WKID != 2263 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Census.MaxVariables != 25 || cfg.Census.Timeout != 15*time.Second {
		t.Errorf("census overrides: %+v", cfg.Census)
	}
	if cfg.Census.Retry.Attempts != 3 || cfg.Census.Retry.Backoff != 2*time.Second {
		t.Errorf("retry overrides: %+v", cfg.Census.Retry)
	}
	if cfg.Census.BaseURL != "https://api.census.gov/data" {
		t.Errorf("unset keys should keep defaults, got %q", cfg.Census.BaseURL)
	}

	ctx := cfg.Context(2021, nil)
	if ctx.SpatialRef.WKID != 2263 || ctx.CountyFIPS() != "36061" {
		t.Errorf("context = %+v", ctx)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("state: \"6\"\n"), 0o644)
	if _, err := LoadConfig(path, nil); err == nil {
		t.Error("expected validation error for 1-digit state")
	}

	os.WriteFile(path, []byte("years: [not-a-year\n"), 0o644)
	if _, err := LoadConfig(path, nil); err == nil {
		t.Error("expected parse error")
	}
}
