package jsonbackend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/mapscrape/internal/storage"
)

func TestJSONBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "listings.jsonl")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	older := []*storage.Listing{
		{ID: "a0", RunID: "run-a", Query: "berber Beşiktaş", Position: 0, CreatedAt: now.Add(-2 * time.Hour),
			Record: storage.Record{Name: "Usta Berber", Address: "Çarşı Sk. 4", Rating: "4,8 yıldız"}},
		{ID: "a1", RunID: "run-a", Query: "berber Beşiktaş", Position: 1, CreatedAt: now.Add(-2 * time.Hour),
			Record: storage.Record{Name: "Makas", Address: "", Rating: ""}},
	}
	newer := &storage.Listing{ID: "b0", RunID: "run-b", Query: "eczane Üsküdar", Position: 0, CreatedAt: now.Add(-time.Hour),
		Record: storage.Record{Name: "Şifa Eczanesi", Address: "Hakimiyeti Milliye Cd.", Rating: "4,1 yıldız"}}

	for _, l := range append(older, newer) {
		if err := b.Save(ctx, l); err != nil {
			t.Fatalf("Failed to save listing %s: %v", l.ID, err)
		}
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 listings, got %d", len(all))
	}
	if all[0].ID != "b0" || all[1].ID != "a0" || all[2].ID != "a1" {
		t.Errorf("Unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].Name != "Şifa Eczanesi" || all[0].Rating != "4,1 yıldız" {
		t.Errorf("Record fields not round-tripped: %+v", all[0].Record)
	}

	runA, err := b.Query(ctx, storage.Filter{RunID: "run-a"})
	if err != nil {
		t.Fatalf("Failed to query by run: %v", err)
	}
	if len(runA) != 2 {
		t.Fatalf("Expected 2 listings for run-a, got %d", len(runA))
	}

	since := now.Add(-90 * time.Minute)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to query since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "b0" {
		t.Errorf("Expected only b0 since 90m ago, got %d", len(recent))
	}

	paged, err := b.Query(ctx, storage.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query page: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "a0" {
		t.Errorf("Expected a0 on page 2, got %v", paged)
	}

	// Saving after a query must still append at the end.
	extra := &storage.Listing{ID: "b1", RunID: "run-b", Position: 1, CreatedAt: newer.CreatedAt}
	if err := b.Save(ctx, extra); err != nil {
		t.Fatalf("Failed to save after query: %v", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Errorf("Expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(string(data), "Şifa Eczanesi") {
		t.Errorf("Expected non-ASCII name preserved in file")
	}
}
