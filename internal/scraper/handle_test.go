package scraper

import (
	"errors"
	"testing"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/browser/browsertest"
)

func TestRegistry_PublishResolve(t *testing.T) {
	r := NewRegistry()
	a, b := browsertest.NewElement("a"), browsertest.NewElement("b")

	handles := r.Publish([]browser.Element{a, b})
	if len(handles) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(handles))
	}
	for i, want := range []browser.Element{a, b} {
		if handles[i].Index != i {
			t.Errorf("handle %d has index %d", i, handles[i].Index)
		}
		got, err := r.Resolve(handles[i])
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if got != want {
			t.Errorf("handle %d resolved to the wrong element", i)
		}
	}
}

func TestRegistry_GenerationInvalidatesOldHandles(t *testing.T) {
	r := NewRegistry()
	old := r.Publish([]browser.Element{browsertest.NewElement("a")})
	fresh := r.Publish([]browser.Element{browsertest.NewElement("b")})

	if fresh[0].Generation <= old[0].Generation {
		t.Fatalf("expected generation to advance, got %d then %d", old[0].Generation, fresh[0].Generation)
	}
	if _, err := r.Resolve(old[0]); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle for previous snapshot, got %v", err)
	}
	if _, err := r.Resolve(fresh[0]); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistry_Invalidate(t *testing.T) {
	r := NewRegistry()
	handles := r.Publish([]browser.Element{browsertest.NewElement("a")})
	before := r.Generation()

	r.Invalidate()

	if r.Generation() == before {
		t.Errorf("expected Invalidate to advance the generation")
	}
	if _, err := r.Resolve(handles[0]); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle after Invalidate, got %v", err)
	}
}

func TestRegistry_OutOfRange(t *testing.T) {
	r := NewRegistry()
	handles := r.Publish([]browser.Element{browsertest.NewElement("a")})

	h := handles[0]
	h.Index = 5
	if _, err := r.Resolve(h); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle, got %v", err)
	}
}
