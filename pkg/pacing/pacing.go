package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Phase identifies which kind of pause is being taken.
type Phase string

const (
	// PhaseSettle is the dwell after a page load or a submitted search.
	PhaseSettle Phase = "settle"
	// PhaseScroll is the pause between two scrolls of the result panel.
	PhaseScroll Phase = "scroll"
	// PhaseBatch is the pause inserted after every batch of extracted items.
	PhaseBatch Phase = "batch"
)

// Range is an inclusive interval of durations.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// pick returns a uniformly distributed duration within the range using rnd.
func (r Range) pick(rnd *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		if r.Min < 0 {
			return 0
		}
		return r.Min
	}
	span := int64(r.Max - r.Min)
	return r.Min + time.Duration(rnd.Int63n(span+1))
}

// Policy decides how long to pause for a phase. n is the iteration index the
// pause belongs to (scroll number, processed item count).
type Policy interface {
	Delay(phase Phase, n int) time.Duration
}

// Random draws each pause uniformly from a per-phase range.
// It is safe for concurrent use by multiple goroutines.
type Random struct {
	Settle Range
	Scroll Range
	Batch  Range

	mu  sync.Mutex
	rnd *rand.Rand
}

// Default returns the human-like cadence used against the live site:
// 5-8s page settle, 2-5s between scrolls, 2-4s between batches.
func Default() *Random {
	return &Random{
		Settle: Range{Min: 5 * time.Second, Max: 8 * time.Second},
		Scroll: Range{Min: 2 * time.Second, Max: 5 * time.Second},
		Batch:  Range{Min: 2 * time.Second, Max: 4 * time.Second},
	}
}

// Delay implements Policy.
func (p *Random) Delay(phase Phase, n int) time.Duration {
	var r Range
	switch phase {
	case PhaseSettle:
		r = p.Settle
	case PhaseScroll:
		r = p.Scroll
	case PhaseBatch:
		r = p.Batch
	default:
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r.pick(p.rnd)
}

// None never pauses. Useful in tests.
type None struct{}

// Delay implements Policy.
func (None) Delay(Phase, int) time.Duration { return 0 }

// Wait blocks for the delay chosen by p, or until ctx is canceled.
// It returns the duration actually requested from the policy.
func Wait(ctx context.Context, p Policy, phase Phase, n int) (time.Duration, error) {
	if p == nil {
		return 0, ctx.Err()
	}
	d := p.Delay(phase, n)
	if d <= 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}
