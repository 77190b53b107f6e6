package storage

import (
	"context"
	"slices"
	"time"
)

// Record is one business listing as read from the result panel. Every field
// may be empty; Rating is the raw accessible label, not a number.
type Record struct {
	Name    string `json:"isim"`
	Address string `json:"adres"`
	Rating  string `json:"puan"`
}

// Listing wraps a Record with the run it came from, for record sinks.
type Listing struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	Query    string `json:"query"`
	Position int    `json:"position"`
	Record
	CreatedAt time.Time `json:"created_at"`
}

// Filter allows querying for specific Listings.
type Filter struct {
	RunID  string
	Query  string
	Since  *time.Time
	Limit  int
	Offset int
}

// Match reports whether l passes the RunID, Query and Since conditions.
// Limit and Offset are applied by the caller.
func (f Filter) Match(l *Listing) bool {
	if f.RunID != "" && l.RunID != f.RunID {
		return false
	}
	if f.Query != "" && l.Query != f.Query {
		return false
	}
	if f.Since != nil && l.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page sorts listings newest run first, panel position ascending within a
// run, then applies Offset and Limit. File-backed sinks use it to mirror the
// ORDER BY of the SQL backends.
func (f Filter) Page(listings []*Listing) []*Listing {
	slices.SortStableFunc(listings, func(a, b *Listing) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return a.Position - b.Position
	})

	if f.Offset > 0 {
		if f.Offset >= len(listings) {
			return []*Listing{}
		}
		listings = listings[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(listings) {
		listings = listings[:f.Limit]
	}
	return listings
}

// Backend persists listings produced by a run.
type Backend interface {
	Save(ctx context.Context, listing *Listing) error
	Query(ctx context.Context, filter Filter) ([]*Listing, error)
	Close() error
}
