// Package browser is the automation capability the scraper drives: navigate,
// locate elements with an implicit wait, read text and attributes, type,
// click and scroll. Two engines are provided, chromedp and rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound is returned when a selector matches nothing, after the implicit
// wait for Driver.Find and immediately for element lookups.
var ErrNotFound = errors.New("element not found")

// ErrUnknownEngine is returned by Launch for an unsupported engine name.
var ErrUnknownEngine = errors.New("unknown browser engine")

// DefaultImplicitWait bounds how long Driver.Find waits for a selector.
const DefaultImplicitWait = 10 * time.Second

// Engine names a browser automation backend.
type Engine string

const (
	EngineChromedp Engine = "chromedp"
	EngineRod      Engine = "rod"
)

// ParseEngine maps a config string to an Engine; empty selects chromedp.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EngineChromedp, nil
	case EngineChromedp, EngineRod:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// Driver is one open page in a browser session.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Find waits up to the implicit wait for selector to match.
	Find(ctx context.Context, selector string) (Element, error)
	// FindAll returns the current matches without waiting.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Element is a node in the live page. It is only valid while the Driver that
// produced it is open.
type Element interface {
	// Find returns the first descendant matching selector without waiting.
	Find(ctx context.Context, selector string) (Element, error)
	// FindAll returns all descendants matching selector without waiting.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Clear(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Click(ctx context.Context) error
	// ScrollByHeight advances the element's scrollTop by its own offsetHeight.
	ScrollByHeight(ctx context.Context) error
	OuterHTML(ctx context.Context) (string, error)
}

// Options configure a browser session.
type Options struct {
	Engine       Engine
	Headless     bool
	ImplicitWait time.Duration
	Identity     Identity
	// ExecPath overrides the browser binary lookup.
	ExecPath string
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Engine == "" {
		o.Engine = EngineChromedp
	}
	if o.ImplicitWait <= 0 {
		o.ImplicitWait = DefaultImplicitWait
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// firstOf implements Element.Find on top of Element.FindAll.
func firstOf(all []Element, err error, selector string) (Element, error) {
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return all[0], nil
}

// notFoundOr turns the implicit-wait deadline into ErrNotFound, leaving a
// canceled caller context as is.
func notFoundOr(ctx context.Context, err error, selector string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return fmt.Errorf("find %s: %w", selector, err)
}
