package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/metrics"
	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/FranksOps/mapscrape/pkg/pacing"
)

// DefaultBatchSize is how many items are extracted between two batch pauses.
const DefaultBatchSize = 20

// Field names used in logs and the field-miss metric.
const (
	FieldName    = "name"
	FieldAddress = "address"
	FieldRating  = "rating"
)

// Mode selects how fields are read from an item.
type Mode string

const (
	// ModeDOM reads each field with its own driver lookup.
	ModeDOM Mode = "dom"
	// ModeHTML reads the item's markup once and parses it locally.
	ModeHTML Mode = "html"
)

// ParseMode maps a config string to a Mode; empty selects ModeDOM.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDOM, nil
	case ModeDOM, ModeHTML:
		return m, nil
	default:
		return "", fmt.Errorf("unknown extractor mode %q", s)
	}
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Selectors Selectors
	Pacing    pacing.Policy
	// BatchSize is the number of items between pauses. Zero means
	// DefaultBatchSize.
	BatchSize int
	Mode      Mode
	Logger    *slog.Logger
}

// Extractor turns item handles into records. Every field is read on its
// own; whatever cannot be read becomes "".
type Extractor struct {
	config   ExtractorConfig
	registry *Registry
	logger   *slog.Logger
}

// NewExtractor returns an Extractor resolving handles through registry.
func NewExtractor(cfg ExtractorConfig, registry *Registry) *Extractor {
	cfg.Selectors = cfg.Selectors.withDefaults()
	if cfg.Pacing == nil {
		cfg.Pacing = pacing.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDOM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Extractor{config: cfg, registry: registry, logger: cfg.Logger}
}

// Extract returns one record per handle, in handle order. It never fails.
// Once ctx is done the remaining batch pauses are skipped.
func (e *Extractor) Extract(ctx context.Context, handles []ItemHandle) []storage.Record {
	records := make([]storage.Record, 0, len(handles))
	pausing := true

	for i, h := range handles {
		records = append(records, e.extractOne(ctx, h))

		processed := i + 1
		if !pausing || processed%e.config.BatchSize != 0 {
			continue
		}
		d, err := pacing.Wait(ctx, e.config.Pacing, pacing.PhaseBatch, processed)
		metrics.ObservePause(string(pacing.PhaseBatch), d)
		if err != nil {
			pausing = false
		}
		e.logger.Debug("batch extracted", "processed", processed, "total", len(handles))
	}

	metrics.RecordsExtracted.Add(float64(len(records)))
	return records
}

func (e *Extractor) extractOne(ctx context.Context, h ItemHandle) storage.Record {
	el, err := e.registry.Resolve(h)
	if err != nil {
		e.logger.Debug("unresolvable handle", "index", h.Index, "err", err)
		miss(FieldName)
		miss(FieldAddress)
		miss(FieldRating)
		return storage.Record{}
	}

	if e.config.Mode == ModeHTML {
		if rec, ok := e.fromHTML(ctx, el); ok {
			return rec
		}
	}
	return e.fromDOM(ctx, el)
}

func (e *Extractor) fromDOM(ctx context.Context, el browser.Element) storage.Record {
	sel := e.config.Selectors

	text := func(field, selector string) string {
		child, err := el.Find(ctx, selector)
		if err != nil {
			miss(field)
			return ""
		}
		v, err := child.Text(ctx)
		if err != nil {
			miss(field)
			return ""
		}
		return strings.TrimSpace(v)
	}

	rating := func() string {
		child, err := el.Find(ctx, sel.Rating)
		if err != nil {
			miss(FieldRating)
			return ""
		}
		v, ok, err := child.Attribute(ctx, sel.RatingAttr)
		if err != nil || !ok {
			miss(FieldRating)
			return ""
		}
		return strings.TrimSpace(v)
	}

	return storage.Record{
		Name:    text(FieldName, sel.Name),
		Address: text(FieldAddress, sel.Address),
		Rating:  rating(),
	}
}

// fromHTML parses the item's outer HTML. ok is false when the markup could
// not be read, in which case the caller falls back to DOM lookups.
func (e *Extractor) fromHTML(ctx context.Context, el browser.Element) (storage.Record, bool) {
	outer, err := el.OuterHTML(ctx)
	if err != nil || outer == "" {
		return storage.Record{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outer))
	if err != nil {
		e.logger.Debug("parse item html failed", "err", err)
		return storage.Record{}, false
	}

	sel := e.config.Selectors

	text := func(field, selector string) string {
		s := doc.Find(selector).First()
		if s.Length() == 0 {
			miss(field)
			return ""
		}
		return strings.TrimSpace(s.Text())
	}

	rating := func() string {
		v, ok := doc.Find(sel.Rating).First().Attr(sel.RatingAttr)
		if !ok {
			miss(FieldRating)
			return ""
		}
		return strings.TrimSpace(v)
	}

	return storage.Record{
		Name:    text(FieldName, sel.Name),
		Address: text(FieldAddress, sel.Address),
		Rating:  rating(),
	}, true
}

func miss(field string) {
	metrics.FieldMisses.WithLabelValues(field).Inc()
}
