package document

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/mapscrape/internal/storage"
)

func TestWrite_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	records := []storage.Record{
		{Name: "Çiğköfteci Ömer", Address: "İstiklal Cd. No:5", Rating: "4,3 yıldız"},
		{Name: "A&B <Cafe>", Address: "", Rating: ""},
		{},
	}

	path, err := Write(dir, records)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if path != filepath.Join(dir, FileName) {
		t.Errorf("unexpected path %s", path)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d: expected %+v, got %+v", i, records[i], got[i])
		}
	}

	// Every object carries exactly the three string keys.
	data, _ := os.ReadFile(path)
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for i, obj := range raw {
		if len(obj) != 3 {
			t.Errorf("object %d: expected 3 keys, got %v", i, obj)
		}
		for _, k := range []string{"isim", "adres", "puan"} {
			if _, ok := obj[k].(string); !ok {
				t.Errorf("object %d: key %s missing or not a string", i, k)
			}
		}
	}
}

func TestWrite_Formatting(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(dir, []storage.Record{{Name: "Şahin & Oğulları", Address: "Üsküdar", Rating: "5 yıldız"}})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	text := string(data)

	if !strings.Contains(text, "Şahin & Oğulları") {
		t.Errorf("expected non-ASCII and & written literally, got %s", text)
	}
	if strings.Contains(text, `\u`) {
		t.Errorf("expected no unicode escapes, got %s", text)
	}
	if !strings.HasPrefix(text, "[\n  {\n    \"isim\"") {
		t.Errorf("expected 2-space indentation, got %q", text)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the result file in dir, found %d entries", len(entries))
	}
}

func TestWrite_Empty(t *testing.T) {
	path, err := Write(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty array, got %q", data)
	}
}

func TestPrepare(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	if err := Prepare(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected an empty directory, found %d entries", len(entries))
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Prepare(filepath.Join(file, "out")); err == nil {
		t.Error("expected an error for a directory below a regular file")
	}
}
