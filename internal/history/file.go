package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"posmon/internal/model"
)

// FilePersister stores the snapshot as a JSON array, rewritten atomically.
type FilePersister struct {
	Path string
}

// Load returns nil, nil when the file does not exist yet.
func (f *FilePersister) Load() ([]model.ClosedRecord, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", f.Path, err)
	}
	var recs []model.ClosedRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", f.Path, err)
	}
	return recs, nil
}

// Save writes to a temp file in the same directory and renames it over Path.
func (f *FilePersister) Save(records []model.ClosedRecord) error {
	if records == nil {
		records = []model.ClosedRecord{}
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}
	return nil
}
