package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	coreagg "github.com/aevon-lab/timestack/internal/core/aggregation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config plus the resolved stack definitions.
type Config struct {
	Source SourceConfig `koanf:"source"`
	Output OutputConfig `koanf:"output"`
	Stack  StackConfig  `koanf:"stack"`

	// Definitions is populated by Load after parsing definition files.
	Definitions DefinitionLoadingConfig `koanf:"-"`
}

type SourceConfig struct {
	Type        string   `koanf:"type"` // csv | postgres
	Path        string   `koanf:"path"`
	Delimiter   string   `koanf:"delimiter"`
	TimeZone    string   `koanf:"time_zone"`
	DateFormats []string `koanf:"date_formats"` // Go layouts tried before inference

	DSN          string `koanf:"dsn"`
	Query        string `koanf:"query"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type OutputConfig struct {
	Path       string `koanf:"path"` // empty or "-" writes to stdout
	Format     string `koanf:"format"`
	Delimiter  string `koanf:"delimiter"`
	TimeLayout string `koanf:"time_layout"`
}

type StackConfig struct {
	DefinitionsDir     string `koanf:"definitions_dir"`
	Name               string `koanf:"name"` // definition to run; may be overridden by -stack
	Workers            int    `koanf:"workers"`
	RequireDefinitions bool   `koanf:"require_definitions"`
}

type DefinitionLoadingConfig struct {
	Dir         string
	Definitions []coreagg.StackDefinition
}

// Location resolves source.time_zone. Empty means UTC.
func (c SourceConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Comma returns the CSV delimiter rune. Empty means ','.
func (c SourceConfig) Comma() rune { return comma(c.Delimiter) }

// Comma returns the CSV delimiter rune. Empty means ','.
func (c OutputConfig) Comma() rune { return comma(c.Delimiter) }

func comma(s string) rune {
	if s == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// Definition returns the loaded definition called name.
func (c *Config) Definition(name string) (*coreagg.StackDefinition, error) {
	for i := range c.Definitions.Definitions {
		if c.Definitions.Definitions[i].Name == name {
			return &c.Definitions.Definitions[i], nil
		}
	}
	return nil, fmt.Errorf("stack definition %q not found in %q", name, c.Definitions.Dir)
}

func (c *Config) Validate() error {
	switch c.Source.Type {
	case "csv":
		if strings.TrimSpace(c.Source.Path) == "" {
			return fmt.Errorf("source.path is required for csv sources")
		}
		if _, err := os.Stat(c.Source.Path); err != nil {
			return fmt.Errorf("source.path %q is not accessible: %w", c.Source.Path, err)
		}
	case "postgres":
		if strings.TrimSpace(c.Source.DSN) == "" {
			return fmt.Errorf("source.dsn is required for postgres sources")
		}
		if strings.TrimSpace(c.Source.Query) == "" {
			return fmt.Errorf("source.query is required for postgres sources")
		}
		if c.Source.MaxOpenConns <= 0 {
			return fmt.Errorf("source.max_open_conns must be > 0")
		}
		if c.Source.MaxIdleConns <= 0 {
			return fmt.Errorf("source.max_idle_conns must be > 0")
		}
	default:
		return fmt.Errorf("unsupported source.type %q (must be csv or postgres)", c.Source.Type)
	}
	if utf8.RuneCountInString(c.Source.Delimiter) > 1 {
		return fmt.Errorf("source.delimiter must be a single character, got %q", c.Source.Delimiter)
	}
	if _, err := c.Source.Location(); err != nil {
		return fmt.Errorf("invalid source.time_zone %q: %w", c.Source.TimeZone, err)
	}

	if c.Output.Format != "csv" && c.Output.Format != "json" {
		return fmt.Errorf("invalid output.format %q (must be csv or json)", c.Output.Format)
	}
	if utf8.RuneCountInString(c.Output.Delimiter) > 1 {
		return fmt.Errorf("output.delimiter must be a single character, got %q", c.Output.Delimiter)
	}

	if strings.TrimSpace(c.Stack.DefinitionsDir) == "" {
		return fmt.Errorf("stack.definitions_dir is required")
	}
	if c.Stack.Workers < 0 {
		return fmt.Errorf("stack.workers must be >= 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates stack definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"source.type":               "csv",
		"source.path":               "./data/source.csv",
		"source.delimiter":          ",",
		"source.time_zone":          "UTC",
		"source.max_open_conns":     5,
		"source.max_idle_conns":     5,
		"output.path":               "-",
		"output.format":             "csv",
		"output.delimiter":          ",",
		"output.time_layout":        "2006-01-02T15:04:05",
		"stack.definitions_dir":     "./config/stacks",
		"stack.workers":             0,
		"stack.require_definitions": true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TIMESTACK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TIMESTACK_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coreagg.NewFileSystemDefinitionRepository(cfg.Stack.DefinitionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack definitions: %w", err)
	}
	defs, err := repo.List(context.Background(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to list stack definitions: %w", err)
	}
	if cfg.Stack.RequireDefinitions && len(defs) == 0 {
		return nil, fmt.Errorf("no stack definitions found in %q", cfg.Stack.DefinitionsDir)
	}

	cfg.Definitions = DefinitionLoadingConfig{
		Dir:         cfg.Stack.DefinitionsDir,
		Definitions: defs,
	}
	slog.Debug("[Config] Stack definitions loaded",
		"dir", cfg.Stack.DefinitionsDir,
		"count", len(defs))
	if cfg.Stack.Name != "" {
		if _, err := cfg.Definition(cfg.Stack.Name); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}
