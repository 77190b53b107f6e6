// Package document writes the per-run result file, maps_data.json.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/FranksOps/mapscrape/internal/storage"
)

// FileName is the name of the result file written into the output directory.
const FileName = "maps_data.json"

// Prepare creates dir if needed and checks that a result file can be
// created in it.
func Prepare(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("output dir not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// Write stores records as a pretty-printed JSON array in dir/maps_data.json,
// creating dir if needed. Non-ASCII text and HTML characters are written
// literally. It returns the path of the written file.
func Write(dir string, records []storage.Record) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if records == nil {
		records = []storage.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("chmod result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move result file: %w", err)
	}

	return path, nil
}

// Read loads a file previously produced by Write.
func Read(path string) ([]storage.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}

	var records []storage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode result file: %w", err)
	}
	return records, nil
}
