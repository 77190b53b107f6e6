// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/FranksOps/mapscrape/internal/browser"
)

// ensure fakes implement the interfaces
var (
	_ browser.Driver  = (*Driver)(nil)
	_ browser.Element = (*Element)(nil)
	_ browser.Element = (*Feed)(nil)
)

// Element is a static node. Children are keyed by the exact selector string a
// caller will ask for.
type Element struct {
	InnerText string
	Attrs     map[string]string
	Children  map[string][]browser.Element
	Outer     string
	// Err, when set, is returned by every read.
	Err error

	mu      sync.Mutex
	typed   []string
	clicks  int
	cleared int
}

// NewElement returns an element with the given text.
func NewElement(text string) *Element {
	return &Element{InnerText: text}
}

// WithAttr sets an attribute and returns e.
func (e *Element) WithAttr(name, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = map[string]string{}
	}
	e.Attrs[name] = value
	return e
}

// WithChild registers child under selector and returns e.
func (e *Element) WithChild(selector string, child browser.Element) *Element {
	if e.Children == nil {
		e.Children = map[string][]browser.Element{}
	}
	e.Children[selector] = append(e.Children[selector], child)
	return e
}

func (e *Element) Find(ctx context.Context, selector string) (browser.Element, error) {
	all, err := e.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return all[0], nil
}

func (e *Element) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return append([]browser.Element(nil), e.Children[selector]...), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return e.InnerText, nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if e.Err != nil {
		return "", false, e.Err
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
	e.typed = nil
	return nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typed = append(e.typed, text)
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks++
	return nil
}

func (e *Element) ScrollByHeight(ctx context.Context) error {
	return nil
}

func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return e.Outer, nil
}

// Typed returns the text sent since the last Clear.
func (e *Element) Typed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s string
	for _, t := range e.typed {
		s += t
	}
	return s
}

// Clicks reports how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Cleared reports how many times the element was cleared.
func (e *Element) Cleared() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared
}

// Feed is a lazily populated list: Initial items are visible at first and
// every ScrollByHeight materializes Step more, up to len(Items).
type Feed struct {
	Element

	ItemSelector string
	Items        []browser.Element
	Initial      int
	Step         int

	// ScrollErr is returned by ScrollByHeight once Scrolls reaches FailAfter.
	ScrollErr error
	FailAfter int

	mu      sync.Mutex
	scrolls int
}

func (f *Feed) visible() int {
	n := f.Initial + f.scrolls*f.Step
	if n > len(f.Items) {
		n = len(f.Items)
	}
	return n
}

func (f *Feed) Find(ctx context.Context, selector string) (browser.Element, error) {
	all, err := f.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return all[0], nil
}

func (f *Feed) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if selector != f.ItemSelector {
		return f.Element.FindAll(ctx, selector)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Element(nil), f.Items[:f.visible()]...), nil
}

func (f *Feed) ScrollByHeight(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScrollErr != nil && f.scrolls >= f.FailAfter {
		return f.ScrollErr
	}
	f.scrolls++
	return nil
}

// Scrolls reports how many successful scrolls were issued.
func (f *Feed) Scrolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrolls
}

// Driver is a page whose elements are looked up by exact selector.
type Driver struct {
	// Nodes answer Find.
	Nodes map[string]browser.Element
	// Lists answer FindAll.
	Lists map[string][]browser.Element
	URL   string
	Page  string

	NavigateErr error
	CloseErr    error

	mu      sync.Mutex
	visited []string
	closed  int
}

// NewDriver returns an empty page at url.
func NewDriver(url string) *Driver {
	return &Driver{
		URL:   url,
		Nodes: map[string]browser.Element{},
		Lists: map[string][]browser.Element{},
	}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visited = append(d.visited, url)
	return nil
}

func (d *Driver) Find(ctx context.Context, selector string) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if el, ok := d.Nodes[selector]; ok {
		return el, nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
}

func (d *Driver) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]browser.Element(nil), d.Lists[selector]...), nil
}

func (d *Driver) Location(ctx context.Context) (string, error) {
	return d.URL, nil
}

func (d *Driver) HTML(ctx context.Context) (string, error) {
	return d.Page, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return d.CloseErr
}

// Visited returns the URLs passed to Navigate.
func (d *Driver) Visited() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visited...)
}

// Closed reports how many times Close was called.
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Launcher returns a browser.Launcher that always hands out d.
func (d *Driver) Launcher() browser.Launcher {
	return func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
		return d, nil
	}
}
