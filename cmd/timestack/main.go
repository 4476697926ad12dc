package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // time zones without a system zoneinfo

	corecfg "github.com/aevon-lab/timestack/internal/core/config"
	"github.com/aevon-lab/timestack/internal/core/storage"
	"github.com/aevon-lab/timestack/internal/core/storage/postgres"
	"github.com/aevon-lab/timestack/internal/core/table"
	"github.com/aevon-lab/timestack/internal/core/timeparse"
	"github.com/aevon-lab/timestack/internal/timestack"
)

func main() {
	configPath := flag.String("config", "timestack.yaml", "Path to configuration file")
	stackName := flag.String("stack", "", "Stack definition to run (overrides stack.name)")
	flag.Parse()

	// 0. Initialize Logger (stdout may carry the output table)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *stackName); err != nil {
		slog.Error("Time stack failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, stackName string) error {
	// 1. Load Configuration
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if stackName == "" {
		stackName = cfg.Stack.Name
	}
	if stackName == "" {
		return fmt.Errorf("no stack selected: set stack.name or pass -stack")
	}
	def, err := cfg.Definition(stackName)
	if err != nil {
		return err
	}
	slog.Info("Loaded config",
		"source", cfg.Source.Type,
		"stack", def.Name,
		"definition_fingerprint", def.Fingerprint,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("Signal received, cancelling run...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// 2. Load the source table
	src, err := openSource(cfg.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	tbl, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	slog.Info("Loaded source table", "rows", tbl.RowCount(), "columns", len(tbl.Headers()))

	// 3. Stack
	stack, err := timestack.FromDefinition(tbl, def)
	if err != nil {
		return err
	}
	res, err := stack.Run(ctx, timestack.OptionsFromDefinition(def, cfg.Stack.Workers))
	if err != nil {
		return err
	}

	// 4. Write the result
	return writeOutput(cfg.Output, res.Table)
}

func openSource(c corecfg.SourceConfig) (storage.TableSource, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	switch c.Type {
	case "postgres":
		return postgres.NewAdapter(c.DSN, c.Query, c.MaxOpenConns, c.MaxIdleConns, loc)
	case "csv":
		return &storage.CSVFile{
			Path: c.Path,
			Options: table.ReadOptions{
				Comma: c.Comma(),
				// one cache per run; learned formats never leak between runs
				Dates: timeparse.New(loc, c.DateFormats...),
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", c.Type)
	}
}

func writeOutput(c corecfg.OutputConfig, t *table.MemTable) error {
	var w io.Writer = os.Stdout
	if c.Path != "" && c.Path != "-" {
		f, err := os.Create(c.Path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	opts := table.WriteOptions{Comma: c.Comma(), TimeLayout: c.TimeLayout}
	var err error
	switch c.Format {
	case "json":
		err = table.WriteJSON(w, t, opts)
	default:
		err = table.WriteCSV(w, t, opts)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("Wrote output", "path", c.Path, "format", c.Format, "rows", t.RowCount())
	return nil
}
