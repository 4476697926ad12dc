package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aevon-lab/timestack/internal/core/table"
)

// TableSource loads the materialized source table of a time stack run.
type TableSource interface {
	Load(ctx context.Context) (*table.MemTable, error)
	Close() error
}

// CSVFile is a TableSource backed by a delimited file on disk.
type CSVFile struct {
	Path    string
	Options table.ReadOptions
}

// Load reads and types the whole file.
func (f *CSVFile) Load(ctx context.Context) (*table.MemTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source csv: %w", err)
	}
	defer fh.Close()

	t, err := table.ReadCSV(fh, f.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to read source csv %s: %w", f.Path, err)
	}
	return t, nil
}

// Close is a no-op; the file is closed after each Load.
func (f *CSVFile) Close() error { return nil }
