package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/bypass"
	"github.com/FranksOps/mapscrape/internal/metrics"
	"github.com/FranksOps/mapscrape/pkg/pacing"
)

// DefaultBaseURL is the map application the loader drives.
const DefaultBaseURL = "https://www.google.com/maps"

// DefaultStallLimit is how many scrolls in a row may add nothing before the
// loader gives up on reaching the target.
const DefaultStallLimit = 5

// ErrLocatorNotFound matches every *LocatorError.
var ErrLocatorNotFound = errors.New("required element not found")

// LocatorError reports a required element that did not appear within the
// implicit wait.
type LocatorError struct {
	// Element is what was being looked for, e.g. "search input".
	Element  string
	Selector string
	URL      string
	// Source names the block detector that matched the page, if any.
	Source string
	Err    error
}

func (e *LocatorError) Error() string {
	msg := fmt.Sprintf("locate %s (%s) at %s", e.Element, e.Selector, e.URL)
	if e.Source != "" {
		msg += fmt.Sprintf(": page looks like %s", e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LocatorError) Unwrap() error { return e.Err }

// Is makes every LocatorError match ErrLocatorNotFound.
func (e *LocatorError) Is(target error) bool { return target == ErrLocatorNotFound }

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BaseURL   string
	Selectors Selectors
	Pacing    pacing.Policy
	// StallLimit is the number of consecutive scrolls without growth that
	// ends the load. Zero means DefaultStallLimit.
	StallLimit int
	// MaxScrolls caps the scrolls issued. Zero means no cap.
	MaxScrolls     int
	DismissConsent bool
	Detectors      []bypass.Detector
	Logger         *slog.Logger
}

// LoadResult is the outcome of one load.
type LoadResult struct {
	// Handles are the first min(target, Available) items in panel order.
	Handles []ItemHandle
	// Available is the item count of the last successful panel query.
	Available int
	Scrolls   int
	// Stalled is true when the panel stopped growing short of the target.
	Stalled bool
	// Partial is true when a scroll or re-query failed and the items loaded
	// until then were kept.
	Partial bool
}

// Loader drives the result panel until enough items are materialized.
type Loader struct {
	config   LoaderConfig
	registry *Registry
	logger   *slog.Logger
}

// NewLoader returns a Loader publishing its handles to registry.
func NewLoader(cfg LoaderConfig, registry *Registry) *Loader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Selectors = cfg.Selectors.withDefaults()
	if cfg.Pacing == nil {
		cfg.Pacing = pacing.Default()
	}
	if cfg.StallLimit <= 0 {
		cfg.StallLimit = DefaultStallLimit
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loader{config: cfg, registry: registry, logger: cfg.Logger}
}

// Registry returns the registry the loader publishes to.
func (l *Loader) Registry() *Registry { return l.registry }

// Load searches for query and scrolls the result panel until target items
// are present, the panel stops growing, MaxScrolls is reached or ctx ends.
func (l *Loader) Load(ctx context.Context, d browser.Driver, query string, target int) (*LoadResult, error) {
	if target < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTarget, target)
	}
	sel := l.config.Selectors

	if err := d.Navigate(ctx, l.config.BaseURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", l.config.BaseURL, err)
	}
	if err := l.pause(ctx, pacing.PhaseSettle, 0); err != nil {
		return nil, err
	}

	if l.config.DismissConsent {
		l.dismissConsent(ctx, d)
	}

	input, err := l.locate(ctx, d, "search input", sel.SearchInput)
	if err != nil {
		return nil, err
	}
	if err := input.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear search input: %w", err)
	}
	if err := input.SendKeys(ctx, query); err != nil {
		return nil, fmt.Errorf("type query: %w", err)
	}

	button, err := l.locate(ctx, d, "search button", sel.SearchButton)
	if err != nil {
		return nil, err
	}
	if err := button.Click(ctx); err != nil {
		return nil, fmt.Errorf("click search button: %w", err)
	}
	if err := l.pause(ctx, pacing.PhaseSettle, 1); err != nil {
		return nil, err
	}

	panel, err := l.locate(ctx, d, "results panel", sel.Panel)
	if err != nil {
		return nil, err
	}

	items, err := panel.FindAll(ctx, sel.Item)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("query items: %w", err)
	}

	res := &LoadResult{}
	stall := 0
	for len(items) < target {
		if l.config.MaxScrolls > 0 && res.Scrolls >= l.config.MaxScrolls {
			l.logger.Info("scroll cap reached", "scrolls", res.Scrolls, "loaded", len(items), "target", target)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := panel.ScrollByHeight(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn("scroll failed, keeping loaded items", "loaded", len(items), "err", err)
			res.Partial = true
			break
		}
		res.Scrolls++
		metrics.ScrollIterations.Inc()

		if err := l.pause(ctx, pacing.PhaseScroll, res.Scrolls); err != nil {
			return nil, err
		}

		next, err := panel.FindAll(ctx, sel.Item)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn("item query failed, keeping loaded items", "loaded", len(items), "err", err)
			res.Partial = true
			break
		}

		if len(next) > len(items) {
			stall = 0
		} else {
			stall++
		}
		items = next
		l.logger.Debug("scrolled", "scroll", res.Scrolls, "loaded", len(items), "target", target)

		if stall >= l.config.StallLimit {
			res.Stalled = true
			metrics.Stalls.Inc()
			l.logger.Info("panel stopped growing", "loaded", len(items), "target", target, "scrolls", res.Scrolls)
			break
		}
	}

	res.Available = len(items)
	metrics.ItemsLoaded.Set(float64(res.Available))

	n := min(target, len(items))
	res.Handles = l.registry.Publish(items[:n])
	return res, nil
}

func (l *Loader) pause(ctx context.Context, phase pacing.Phase, n int) error {
	d, err := pacing.Wait(ctx, l.config.Pacing, phase, n)
	metrics.ObservePause(string(phase), d)
	return err
}

// locate waits for a required element. On a miss the current page is run
// through the block detectors so the error can say why it is missing.
func (l *Loader) locate(ctx context.Context, d browser.Driver, name, selector string) (browser.Element, error) {
	el, err := d.Find(ctx, selector)
	if err == nil {
		return el, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.Is(err, browser.ErrNotFound) {
		return nil, fmt.Errorf("locate %s: %w", name, err)
	}

	lerr := &LocatorError{Element: name, Selector: selector, Err: err}
	if loc, err := d.Location(ctx); err == nil {
		lerr.URL = loc
	}
	if html, err := d.HTML(ctx); err == nil {
		page := &bypass.Page{URL: lerr.URL, Body: []byte(html)}
		if detected, source := bypass.Analyze(page, l.config.Detectors); detected {
			lerr.Source = source
			metrics.BlockDetections.WithLabelValues(source).Inc()
		}
	}
	return nil, lerr
}

// dismissConsent clicks the first consent button present. Nothing present,
// or a failed click, is not an error.
func (l *Loader) dismissConsent(ctx context.Context, d browser.Driver) {
	for _, selector := range l.config.Selectors.Consent {
		found, err := d.FindAll(ctx, selector)
		if err != nil || len(found) == 0 {
			continue
		}
		if err := found[0].Click(ctx); err != nil {
			l.logger.Debug("consent click failed", "selector", selector, "err", err)
			return
		}
		metrics.BlockDetections.WithLabelValues(bypass.SourceConsentWall).Inc()
		l.logger.Info("dismissed consent dialog", "selector", selector)
		return
	}
}
