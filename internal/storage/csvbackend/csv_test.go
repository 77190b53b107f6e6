package csvbackend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/mapscrape/internal/storage"
)

func TestCSVBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "listings.csv")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	listings := []*storage.Listing{
		{ID: "c0", RunID: "run-1", Query: "restoran İzmir", Position: 0, CreatedAt: now,
			Record: storage.Record{Name: "Deniz, Balık & Meze", Address: "Kordon \"Boyu\" 7", Rating: "4,4 yıldız"}},
		{ID: "c1", RunID: "run-1", Query: "restoran İzmir", Position: 1, CreatedAt: now,
			Record: storage.Record{Name: "Köfteci", Address: "", Rating: ""}},
	}
	for _, l := range listings {
		if err := b.Save(ctx, l); err != nil {
			t.Fatalf("Failed to save %s: %v", l.ID, err)
		}
	}
	b.Close()

	// Reopen to verify the header is not duplicated.
	b, err = New(filePath)
	if err != nil {
		t.Fatalf("Failed to reopen CSV backend: %v", err)
	}
	defer b.Close()

	got, err := b.Query(ctx, storage.Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 listings, got %d", len(got))
	}
	if got[0].ID != "c0" || got[1].ID != "c1" {
		t.Errorf("Expected position order, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Name != "Deniz, Balık & Meze" || got[0].Address != "Kordon \"Boyu\" 7" {
		t.Errorf("Quoted fields not round-tripped: %+v", got[0].Record)
	}
	if got[1].Address != "" || got[1].Rating != "" {
		t.Errorf("Expected empty fields preserved, got %+v", got[1].Record)
	}
	if got[0].CreatedAt.Unix() != now.Unix() {
		t.Errorf("Expected CreatedAt %v, got %v", now, got[0].CreatedAt)
	}

	none, err := b.Query(ctx, storage.Filter{RunID: "other"})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected 0 listings for unknown run, got %d", len(none))
	}

	data, _ := os.ReadFile(filePath)
	if n := strings.Count(string(data), "id,run_id,query"); n != 1 {
		t.Errorf("Expected exactly one header row, got %d", n)
	}
}
