package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"leakwatch/internal/leakcore"
)

// CSVColumns is the fixed column set of the tabular export.
var CSVColumns = []string{
	"source", "post_title", "target_service", "domains", "leak_types",
	"estimated_volume", "confidence", "collected_at", "post_id", "message_url",
}

// CSVFile appends one row per record. The header is written when the file
// is new or empty.
type CSVFile struct {
	path string
	mu   sync.Mutex
}

func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

func (c *CSVFile) Name() string { return "csv" }

func (c *CSVFile) Write(_ context.Context, r *leakcore.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(c.path), err)
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", c.path, err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVColumns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(csvRow(r)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (c *CSVFile) Close() error { return nil }

func csvRow(r *leakcore.Record) []string {
	return []string{
		r.Source,
		r.PostTitle,
		r.TargetService,
		strings.Join(r.Domains, ","),
		strings.Join(r.LeakTypes, ","),
		r.EstimatedVolume.String(),
		string(r.Confidence),
		r.CollectedAt.String(),
		r.PostID,
		r.MessageURL,
	}
}
