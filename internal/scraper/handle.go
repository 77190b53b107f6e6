package scraper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/FranksOps/mapscrape/internal/browser"
)

// ErrStaleHandle is returned when resolving a handle from an earlier
// snapshot or after the session ended.
var ErrStaleHandle = errors.New("stale item handle")

// ItemHandle refers to one item of a published panel snapshot. It is only
// meaningful to the Registry that issued it.
type ItemHandle struct {
	Index      int
	Generation uint64
}

// Registry owns the live elements behind the handles of the current
// snapshot. Every Publish or Invalidate starts a new generation, so handles
// from before it stop resolving.
type Registry struct {
	mu         sync.RWMutex
	generation uint64
	elements   []browser.Element
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish replaces the snapshot with elements and returns one handle per
// element in the same order.
func (r *Registry) Publish(elements []browser.Element) []ItemHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.elements = append([]browser.Element(nil), elements...)

	handles := make([]ItemHandle, len(elements))
	for i := range handles {
		handles[i] = ItemHandle{Index: i, Generation: r.generation}
	}
	return handles
}

// Resolve returns the element behind h.
func (r *Registry) Resolve(h ItemHandle) (browser.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h.Generation != r.generation || r.elements == nil {
		return nil, fmt.Errorf("%w: generation %d, current %d", ErrStaleHandle, h.Generation, r.generation)
	}
	if h.Index < 0 || h.Index >= len(r.elements) {
		return nil, fmt.Errorf("%w: index %d out of %d", ErrStaleHandle, h.Index, len(r.elements))
	}
	return r.elements[h.Index], nil
}

// Invalidate drops the snapshot. Call it before the session closes.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.elements = nil
}

// Generation returns the current generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
