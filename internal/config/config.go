// Package config loads drover's configuration from .drover/config.yaml,
// with environment secrets supplied through a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Dir is the project-local directory drover keeps its files in.
const Dir = ".drover"

// Config is the resolved runtime configuration.
type Config struct {
	AgentBin    string         // coding agent binary
	SpecToolBin string         // spec-tooling binary
	LogDir      string         // session logs
	SpecsRoot   string         // per-feature spec directories, relative to the worktree
	StoreDriver string         // "sqlite" or "postgres"
	StorePath   string         // sqlite database file
	StoreURL    string         // postgres connection URL
	Repo        string         // default "owner/name" for pull requests
	Thresholds  map[string]int // per-phase gate thresholds
	ReflectFile bool           // lesson extraction via output file instead of inline result

	StandardTimeout  time.Duration
	ImplementFloor   time.Duration
	ImplementPerTask time.Duration
	Verification     time.Duration
}

// rawConfig mirrors the YAML shape. Pointer fields distinguish "not set"
// from an explicit zero value.
type rawConfig struct {
	AgentBin    *string        `yaml:"agentBin"`
	SpecToolBin *string        `yaml:"specToolBin"`
	LogDir      *string        `yaml:"logDir"`
	SpecsRoot   *string        `yaml:"specsRoot"`
	Repo        *string        `yaml:"repo"`
	Thresholds  map[string]int `yaml:"thresholds"`
	ReflectFile *bool          `yaml:"reflectFileMode"`
	Store       struct {
		Driver *string `yaml:"driver"`
		Path   *string `yaml:"path"`
		URL    *string `yaml:"url"`
	} `yaml:"eventStore"`
	Timeouts struct {
		Standard         *string `yaml:"standard"`
		ImplementFloor   *string `yaml:"implementFloor"`
		ImplementPerTask *string `yaml:"implementPerTask"`
		Verification     *string `yaml:"verification"`
	} `yaml:"timeouts"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		AgentBin:         "claude",
		SpecToolBin:      "spectool",
		LogDir:           filepath.Join(Dir, "logs"),
		SpecsRoot:        "specs",
		StoreDriver:      "sqlite",
		StorePath:        filepath.Join(Dir, "events.db"),
		Thresholds:       map[string]int{},
		ReflectFile:      true,
		StandardTimeout:  30 * time.Minute,
		ImplementFloor:   30 * time.Minute,
		ImplementPerTask: 3 * time.Minute,
		Verification:     10 * time.Minute,
	}
}

// Load reads .drover/config.yaml under dir, returning defaults when the
// file does not exist. A .env in dir is loaded best-effort for tokens.
func Load(dir string) (Config, error) {
	// Missing .env is fine; tokens may come from the environment directly.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := Default()
	data, err := os.ReadFile(filepath.Join(dir, Dir, "config.yaml"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.AgentBin, raw.AgentBin)
	setString(&cfg.SpecToolBin, raw.SpecToolBin)
	setString(&cfg.LogDir, raw.LogDir)
	setString(&cfg.SpecsRoot, raw.SpecsRoot)
	setString(&cfg.Repo, raw.Repo)
	setString(&cfg.StoreDriver, raw.Store.Driver)
	setString(&cfg.StorePath, raw.Store.Path)
	setString(&cfg.StoreURL, raw.Store.URL)
	if raw.ReflectFile != nil {
		cfg.ReflectFile = *raw.ReflectFile
	}
	for phase, t := range raw.Thresholds {
		cfg.Thresholds[phase] = t
	}
	if err := setDuration(&cfg.StandardTimeout, raw.Timeouts.Standard); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.ImplementFloor, raw.Timeouts.ImplementFloor); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.ImplementPerTask, raw.Timeouts.ImplementPerTask); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.Verification, raw.Timeouts.Verification); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.StorePath == "" {
			return fmt.Errorf("eventStore.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.StoreURL == "" {
			return fmt.Errorf("eventStore.url must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown eventStore.driver %q (supported: sqlite, postgres)", c.StoreDriver)
	}
	if c.AgentBin == "" {
		return fmt.Errorf("agentBin must not be empty")
	}
	if c.SpecToolBin == "" {
		return fmt.Errorf("specToolBin must not be empty")
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("parse timeout %q: %w", *src, err)
	}
	*dst = d
	return nil
}
