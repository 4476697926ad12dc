package aggregation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aevon-lab/timestack/internal/core/span"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Mode selects how intervals are read from the source table.
type Mode string

const (
	// ModeExplicit reads one interval per row from a from and a to column.
	ModeExplicit Mode = "explicit"
	// ModeSerial pairs each timestamp with its successor in the same group.
	ModeSerial Mode = "serial"
)

// StackDefinition is a named, reusable time stack: how to read intervals,
// how to bucket them, and which columns to produce.
// Definitions are loaded at startup from YAML files and fingerprinted.
type StackDefinition struct {
	Name        string
	Mode        Mode
	Group       string // optional group header
	From        string // explicit mode
	To          string // explicit mode
	Timestamp   string // serial mode
	Granularity span.Granularity
	Step        int
	Window      *span.HourWindow
	Columns     []OutputColumn
	Fingerprint string // SHA-256 of the raw YAML file
}

// rawDefinition is the on-disk YAML shape.
type rawDefinition struct {
	Name        string `yaml:"name"`
	Mode        string `yaml:"mode"`
	Group       string `yaml:"group"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Timestamp   string `yaml:"timestamp"`
	Granularity string `yaml:"granularity"` // e.g. "hour", "3h", "day", "month"
	HourWindow  *struct {
		From int `yaml:"from"`
		To   int `yaml:"to"`
	} `yaml:"hour_window"`
	Columns []rawColumn `yaml:"columns"`
}

type rawColumn struct {
	Kind        string   `yaml:"kind"`
	Source      string   `yaml:"source"`
	Header      string   `yaml:"header"`
	Format      string   `yaml:"format"`
	Accumulated bool     `yaml:"accumulated"`
	Factor      *float64 `yaml:"factor"`
}

// DefinitionRepository defines the interface for loading stack definitions.
type DefinitionRepository interface {
	// Get returns the definition with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*StackDefinition, error)

	// List returns all loaded definitions ordered by name, optionally filtered by mode.
	List(ctx context.Context, mode Mode) ([]StackDefinition, error)
}

// FileSystemDefinitionRepository loads stack definitions from *.yaml files in
// a directory. Each file holds exactly one definition at the top level.
// Definitions are loaded once and cached in memory.
type FileSystemDefinitionRepository struct {
	dir         string
	definitions map[string]StackDefinition // keyed by Name
}

// NewFileSystemDefinitionRepository eagerly loads every definition in dir.
// A missing directory yields an empty repository.
func NewFileSystemDefinitionRepository(dir string) (*FileSystemDefinitionRepository, error) {
	repo := &FileSystemDefinitionRepository{
		dir:         dir,
		definitions: make(map[string]StackDefinition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemDefinitionRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stack definition dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("stack definition path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading stack definition dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading definition file %s: %w", path, err)
		}

		def, err := ParseDefinition(data)
		if err != nil {
			return fmt.Errorf("definition file %s: %w", path, err)
		}
		if def == nil {
			continue // empty or comment-only file
		}

		if _, exists := r.definitions[def.Name]; exists {
			return fmt.Errorf("definition %q: duplicate name (check multiple YAML files)", def.Name)
		}
		r.definitions[def.Name] = *def
	}
	return nil
}

// ParseDefinition decodes and validates one YAML definition. It returns
// nil, nil when the document has no name.
func ParseDefinition(data []byte) (*StackDefinition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	if raw.Name == "" {
		return nil, nil
	}

	def := &StackDefinition{
		Name:        raw.Name,
		Mode:        Mode(raw.Mode),
		Group:       raw.Group,
		From:        raw.From,
		To:          raw.To,
		Timestamp:   raw.Timestamp,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}

	switch def.Mode {
	case ModeExplicit:
		if def.From == "" || def.To == "" {
			return nil, fmt.Errorf("definition %q: explicit mode needs from and to headers", def.Name)
		}
	case ModeSerial:
		if def.Timestamp == "" {
			return nil, fmt.Errorf("definition %q: serial mode needs a timestamp header", def.Name)
		}
	default:
		return nil, fmt.Errorf("definition %q: unsupported mode %q (use explicit or serial)", def.Name, raw.Mode)
	}

	granularity := raw.Granularity
	if granularity == "" {
		granularity = "hour"
	}
	g, step, err := span.ParseGranularity(granularity)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w", def.Name, err)
	}
	def.Granularity, def.Step = g, step

	if raw.HourWindow != nil {
		if g != span.Hour {
			return nil, fmt.Errorf("definition %q: hour_window requires hourly granularity", def.Name)
		}
		def.Window = &span.HourWindow{From: raw.HourWindow.From, To: raw.HourWindow.To}
	}

	if len(raw.Columns) == 0 {
		return nil, fmt.Errorf("definition %q: at least one column is required", def.Name)
	}
	seen := make(map[string]struct{}, len(raw.Columns))
	for i, rc := range raw.Columns {
		c := OutputColumn{
			Source:      rc.Source,
			Header:      rc.Header,
			Kind:        Kind(rc.Kind),
			Format:      rc.Format,
			Accumulated: rc.Accumulated,
			Serial:      def.Mode == ModeSerial,
		}
		if !ValidKind(c.Kind) {
			return nil, fmt.Errorf("definition %q: column %d: unsupported kind %q", def.Name, i, rc.Kind)
		}
		if c.Kind.NeedsSource() && c.Source == "" {
			return nil, fmt.Errorf("definition %q: column %d: %s needs a source", def.Name, i, c.Kind)
		}
		if c.Header == "" {
			c.Header = c.Source
		}
		if c.Header == "" {
			return nil, fmt.Errorf("definition %q: column %d: header must not be empty", def.Name, i)
		}
		if _, dup := seen[c.Header]; dup {
			return nil, fmt.Errorf("definition %q: duplicate column header %q", def.Name, c.Header)
		}
		seen[c.Header] = struct{}{}
		if rc.Factor != nil {
			c.Factor = decimal.NewFromFloat(*rc.Factor)
		}
		def.Columns = append(def.Columns, c)
	}
	return def, nil
}

// Get returns the definition with the given name, or an error if not found.
func (r *FileSystemDefinitionRepository) Get(_ context.Context, name string) (*StackDefinition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("stack definition %q not found", name)
	}
	return &def, nil
}

// List returns all loaded definitions ordered by name, optionally filtered by mode.
func (r *FileSystemDefinitionRepository) List(_ context.Context, mode Mode) ([]StackDefinition, error) {
	var out []StackDefinition
	for _, def := range r.definitions {
		if mode != "" && def.Mode != mode {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
