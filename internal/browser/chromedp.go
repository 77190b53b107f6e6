package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ensure chromedp types implement the interfaces
var (
	_ Driver  = (*chromedpDriver)(nil)
	_ Element = (*chromedpElement)(nil)
)

type chromedpDriver struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	wait        time.Duration
}

func launchChromedp(ctx context.Context, opts Options) (Driver, error) {
	id := opts.Identity

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if id.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(id.UserAgent))
	}
	if id.Width > 0 && id.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(id.Width, id.Height))
	}
	if id.Proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(proxy.ServerAddr(id.Proxy)))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives individual calls; only Close tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	err := chromedp.Run(tab, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	}))
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromedpDriver{
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		wait:        opts.ImplicitWait,
	}, nil
}

// bind derives a context that carries the tab executor but is canceled with
// the caller's ctx and, when timeout > 0, after timeout.
func (d *chromedpDriver) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		c      context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		c, cancel = context.WithTimeout(d.tab, timeout)
	} else {
		c, cancel = context.WithCancel(d.tab)
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (d *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	c, cancel := d.bind(ctx, 0)
	defer cancel()
	if err := chromedp.Run(c, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *chromedpDriver) Find(ctx context.Context, selector string) (Element, error) {
	c, cancel := d.bind(ctx, d.wait)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(c, chromedp.Nodes(selector, &nodes, chromedp.ByQuery)); err != nil {
		return nil, notFoundOr(ctx, err, selector)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return &chromedpElement{d: d, node: nodes[0]}, nil
}

func (d *chromedpDriver) FindAll(ctx context.Context, selector string) ([]Element, error) {
	return d.queryAll(ctx, selector)
}

func (d *chromedpDriver) queryAll(ctx context.Context, selector string, opts ...chromedp.QueryOption) ([]Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = &chromedpElement{d: d, node: n}
	}
	return out, nil
}

func (d *chromedpDriver) Location(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (d *chromedpDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.Evaluate(`document.documentElement.outerHTML`, &html).Do(ctx)
	}))
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (d *chromedpDriver) Close() error {
	err := chromedp.Cancel(d.tab)
	d.cancelTab()
	d.cancelAlloc()
	return err
}

type chromedpElement struct {
	d    *chromedpDriver
	node *cdp.Node
}

// call runs a JavaScript function with the element bound to this.
func (e *chromedpElement) call(ctx context.Context, fn string, res any, args ...any) error {
	return e.d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		bind := func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}
		return chromedp.CallFunctionOn(fn, res, bind, args...).Do(ctx)
	}))
}

func (e *chromedpElement) Find(ctx context.Context, selector string) (Element, error) {
	all, err := e.FindAll(ctx, selector)
	return firstOf(all, err, selector)
}

func (e *chromedpElement) FindAll(ctx context.Context, selector string) ([]Element, error) {
	return e.d.queryAll(ctx, selector, chromedp.FromNode(e.node))
}

func (e *chromedpElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.call(ctx, `function() { return this.innerText || this.textContent || ""; }`, &text); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (e *chromedpElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	const fn = `function(name) {
		return {present: this.hasAttribute(name), value: this.getAttribute(name) || ""};
	}`
	if err := e.call(ctx, fn, &res, name); err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", name, err)
	}
	return res.Value, res.Present, nil
}

func (e *chromedpElement) Clear(ctx context.Context) error {
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.d.run(ctx, chromedp.Clear(ids, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (e *chromedpElement) SendKeys(ctx context.Context, text string) error {
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.d.run(ctx, chromedp.SendKeys(ids, text, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("send keys: %w", err)
	}
	return nil
}

func (e *chromedpElement) Click(ctx context.Context) error {
	if err := e.d.run(ctx, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *chromedpElement) ScrollByHeight(ctx context.Context) error {
	var top float64
	if err := e.call(ctx, `function() { this.scrollTop += this.offsetHeight; return this.scrollTop; }`, &top); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (e *chromedpElement) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := e.call(ctx, `function() { return this.outerHTML; }`, &html); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}
