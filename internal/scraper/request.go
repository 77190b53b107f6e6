package scraper

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTargetCount is used when the requested record count is missing or
// unusable.
const DefaultTargetCount = 2000

// ErrInvalidTarget is returned for a target count below one.
var ErrInvalidTarget = errors.New("target count must be at least 1")

// SearchRequest is what the user asked for. It is immutable once built.
type SearchRequest struct {
	businessType string
	location     string
	targetCount  int
}

// NewSearchRequest validates and builds a request.
func NewSearchRequest(businessType, location string, targetCount int) (SearchRequest, error) {
	if targetCount < 1 {
		return SearchRequest{}, fmt.Errorf("%w: got %d", ErrInvalidTarget, targetCount)
	}
	return SearchRequest{
		businessType: strings.TrimSpace(businessType),
		location:     strings.TrimSpace(location),
		targetCount:  targetCount,
	}, nil
}

func (r SearchRequest) BusinessType() string { return r.businessType }
func (r SearchRequest) Location() string     { return r.location }
func (r SearchRequest) TargetCount() int     { return r.targetCount }

// Query is the free text typed into the search box.
func (r SearchRequest) Query() string {
	return strings.TrimSpace(r.businessType + " " + r.location)
}
