package browser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ensure rod types implement the interfaces
var (
	_ Driver  = (*rodDriver)(nil)
	_ Element = (*rodElement)(nil)
)

type rodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	wait     time.Duration
}

func launchRod(ctx context.Context, opts Options) (Driver, error) {
	id := opts.Identity

	l := launcher.New().
		Headless(opts.Headless).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-dev-shm-usage")).
		Delete(flags.Flag("enable-automation"))
	if id.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), id.UserAgent)
	}
	if id.Width > 0 && id.Height > 0 {
		l = l.Set(flags.Flag("window-size"), strconv.Itoa(id.Width)+","+strconv.Itoa(id.Height))
	}
	if id.Proxy != nil {
		l = l.Proxy(proxy.ServerAddr(id.Proxy))
	}
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect devtools: %w", err)
	}

	// stealth.Page also registers the navigator.webdriver override.
	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(hideWebdriver); err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("register init script: %w", err)
	}

	if id.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: id.UserAgent}); err != nil {
			_ = browser.Close()
			l.Kill()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if id.Width > 0 && id.Height > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             id.Width,
			Height:            id.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			_ = browser.Close()
			l.Kill()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	return &rodDriver{launcher: l, browser: browser, page: page, wait: opts.ImplicitWait}, nil
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (d *rodDriver) Find(ctx context.Context, selector string) (Element, error) {
	p := d.page.Context(ctx)
	if d.wait > 0 {
		p = p.Timeout(d.wait)
	}
	el, err := p.Element(selector)
	if err != nil {
		return nil, notFoundOr(ctx, err, selector)
	}
	return &rodElement{el: el}, nil
}

func (d *rodDriver) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return wrapRod(els), nil
}

func (d *rodDriver) Location(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return info.URL, nil
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (d *rodDriver) Close() error {
	err := d.browser.Close()
	d.launcher.Kill()
	d.launcher.Cleanup()
	return err
}

func wrapRod(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Find(ctx context.Context, selector string) (Element, error) {
	all, err := e.FindAll(ctx, selector)
	return firstOf(all, err, selector)
}

func (e *rodElement) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return wrapRod(els), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Clear(ctx context.Context) error {
	const fn = `function() {
		this.value = "";
		this.dispatchEvent(new Event("input", {bubbles: true}));
	}`
	if _, err := e.el.Context(ctx).Eval(fn); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (e *rodElement) SendKeys(ctx context.Context, text string) error {
	if err := e.el.Context(ctx).Input(text); err != nil {
		return fmt.Errorf("send keys: %w", err)
	}
	return nil
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *rodElement) ScrollByHeight(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(`function() { this.scrollTop += this.offsetHeight; }`); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (e *rodElement) OuterHTML(ctx context.Context) (string, error) {
	html, err := e.el.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}
