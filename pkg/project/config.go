package project

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/censusgdb/pkg/fetch"
	"github.com/hazyhaar/censusgdb/pkg/gis"
	"gopkg.in/yaml.v3"
)

// Config is the YAML project configuration.
type Config struct {
	Root      string `yaml:"root"`
	Years     []int  `yaml:"years"`
	State     string `yaml:"state"`
	County    string `yaml:"county"`
	WKID      int    `yaml:"wkid"`
	Boundary  string `yaml:"boundary"`
	DBPath    string `yaml:"db_path"`
	ServeAddr string `yaml:"serve_addr"`
	LogLevel  string `yaml:"log_level"`

	Crawl  CrawlConfig  `yaml:"crawl"`
	Census CensusConfig `yaml:"census"`
}

// CrawlConfig configures the REST catalog crawler.
type CrawlConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Exclude []string      `yaml:"exclude"`
}

// CensusConfig configures the statistics API client.
type CensusConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Dataset           string        `yaml:"dataset"`
	MaxVariables      int           `yaml:"max_variables"`
	Timeout           time.Duration `yaml:"timeout"`
	Retry             fetch.Retry   `yaml:"retry"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	KeyEnv            string        `yaml:"key_env"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Root:      ".",
		Years:     []int{2020},
		State:     "06",
		County:    "059",
		WKID:      3857,
		Boundary:  "",
		DBPath:    "census.db",
		ServeAddr: ":8421",
		LogLevel:  "info",
		Crawl: CrawlConfig{
			BaseURL: "https://tigerweb.geo.census.gov/arcgis/rest/services",
			Timeout: 60 * time.Second,
		},
		Census: CensusConfig{
			BaseURL:           "https://api.census.gov/data",
			Dataset:           "acs/acs5",
			MaxVariables:      50,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
			KeyEnv:            "CENSUS_API_KEY",
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the defaults.
func LoadConfig(path string, logger *slog.Logger) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if logger != nil {
				logger.Info("no config file, using defaults", "path", path)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields every command depends on.
func (c Config) Validate() error {
	if len(c.State) != 2 {
		return fmt.Errorf("state must be a 2-digit FIPS code, got %q", c.State)
	}
	if c.County != "" && len(c.County) != 3 {
		return fmt.Errorf("county must be a 3-digit FIPS code, got %q", c.County)
	}
	if c.WKID <= 0 {
		return fmt.Errorf("wkid must be positive, got %d", c.WKID)
	}
	for _, y := range c.Years {
		if y < 1990 || y > 2100 {
			return fmt.Errorf("year %d out of range", y)
		}
	}
	return nil
}

// Context builds the working context for year.
func (c Config) Context(year int, logger *slog.Logger) Context {
	return Context{
		Root:       c.Root,
		Year:       year,
		State:      c.State,
		County:     c.County,
		SpatialRef: gis.SpatialRef{WKID: c.WKID},
		Boundary:   c.Boundary,
		Logger:     logger,
	}
}

// ParseLevel maps a level name to a slog level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
