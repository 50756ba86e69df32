package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"leakwatch/internal/leakcore"
)

// JSONFile keeps every record in one append-only JSON array.
type JSONFile struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewJSONFile(path string, logger *zap.Logger) *JSONFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONFile{path: path, logger: logger}
}

func (j *JSONFile) Name() string { return "json" }

// Load returns the stored records. A missing file is empty; so is one that
// no longer decodes, which is logged and later overwritten.
func (j *JSONFile) Load() ([]leakcore.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

func (j *JSONFile) load() ([]leakcore.Record, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", j.path, err)
	}
	var records []leakcore.Record
	if err := json.Unmarshal(data, &records); err != nil {
		j.logger.Warn("Record store unreadable, starting empty",
			zap.String("path", j.path),
			zap.Error(err),
		)
		return nil, nil
	}
	return records, nil
}

func (j *JSONFile) Write(_ context.Context, r *leakcore.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return err
	}
	records = append(records, *r)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return replaceFile(j.path, data)
}

func (j *JSONFile) Close() error { return nil }

// replaceFile writes data next to path and renames it into place.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
