package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/mapscrape/internal/bypass"
	"github.com/FranksOps/mapscrape/internal/fingerprint"
	"github.com/FranksOps/mapscrape/internal/metrics"
	"github.com/FranksOps/mapscrape/pkg/httpclient"
	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

var (
	// ErrBlocked is returned when the target answers with a block page or
	// challenge instead of the map application.
	ErrBlocked = errors.New("blocked by target")
	// ErrDisallowed is returned when robots.txt disallows the base path.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// ProbeConfig configures the HTTP preflight.
type ProbeConfig struct {
	Timeout       time.Duration
	Fingerprint   fingerprint.Profile
	UAPool        *useragent.Pool
	ProxyPool     *proxy.Pool
	RespectRobots bool
	Detectors     []bypass.Detector
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// ProbeResult describes what the base URL served.
type ProbeResult struct {
	URL        string
	StatusCode int
	Duration   time.Duration
	UserAgent  string
	Proxy      *url.URL
	// Source names the detector that fired, if any.
	Source string
	// Blocked is true for detections the browser session cannot get past.
	// A consent wall is reported in Source but is not a block.
	Blocked bool
}

// Err returns ErrBlocked wrapped with the detection source when the probe
// found a block, nil otherwise.
func (r *ProbeResult) Err() error {
	if r == nil || !r.Blocked {
		return nil
	}
	return fmt.Errorf("%w: %s at %s", ErrBlocked, r.Source, r.URL)
}

// Prober fetches the base URL once over a fingerprinted transport to find
// out whether a browser session is worth launching.
type Prober struct {
	config ProbeConfig
	client *httpclient.Client
	robots *RobotsAuditor
	logger *slog.Logger
}

// NewProber builds the client and transport. One transport is shared by the
// robots.txt lookup and the probe itself so cookies and connections carry
// over.
func NewProber(cfg ProbeConfig) (*Prober, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy is chosen per request and carried in the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		if ip := net.ParseIP(req.URL.Hostname()); ip != nil && ip.IsLoopback() {
			return nil, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		UseCookieJar: true,
		Transport:    transport,
		Header: http.Header{
			"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
			"Accept-Language": {"en-US,en;q=0.5"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	p := &Prober{
		config: cfg,
		client: client,
		logger: cfg.Logger,
	}
	p.robots = NewRobotsAuditor(p.get, cfg.Logger)
	return p, nil
}

// get fetches rawURL with userAgent through proxyURL, updating proxy health.
func (p *Prober) get(ctx context.Context, rawURL, userAgent string, proxyURL *url.URL) (*httpclient.Response, error) {
	if proxyURL != nil {
		ctx = context.WithValue(ctx, proxyKey, proxyURL)
	}

	resp, err := p.client.Get(ctx, rawURL, http.Header{"User-Agent": {userAgent}})
	if err != nil {
		if proxyURL != nil && ctx.Err() == nil {
			if p.config.ProxyPool != nil {
				_ = p.config.ProxyPool.MarkFailure(proxyURL)
			}
			metrics.ProxyFailures.Inc()
		}
		return nil, err
	}
	if proxyURL != nil && p.config.ProxyPool != nil {
		_ = p.config.ProxyPool.MarkSuccess(proxyURL)
	}
	return resp, nil
}

// Probe fetches target and runs the block detectors on the response. A
// transport failure is returned as an error; a detection is not, see
// ProbeResult.Err. The User-Agent and proxy are drawn from the pools.
func (p *Prober) Probe(ctx context.Context, target string) (*ProbeResult, error) {
	var proxyURL *url.URL
	if p.config.ProxyPool != nil {
		proxyURL = p.config.ProxyPool.Next()
	}
	return p.ProbeAs(ctx, target, p.config.UAPool.Random(), proxyURL)
}

// ProbeAs is Probe with a fixed User-Agent and proxy, so the preflight sees
// the site the way the browser session will. An empty userAgent is drawn
// from the pool; a nil proxyURL connects directly.
func (p *Prober) ProbeAs(ctx context.Context, target, userAgent string, proxyURL *url.URL) (*ProbeResult, error) {
	if userAgent == "" {
		userAgent = p.config.UAPool.Random()
	}
	res := &ProbeResult{
		URL:       target,
		UserAgent: userAgent,
		Proxy:     proxyURL,
	}

	if p.config.RespectRobots {
		allowed, err := p.robots.IsAllowed(ctx, target, res.UserAgent, res.Proxy)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, target)
		}
	}

	resp, err := p.get(ctx, target, res.UserAgent, res.Proxy)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", target, err)
	}

	res.URL = resp.URL
	res.StatusCode = resp.StatusCode
	res.Duration = resp.Duration

	detected, source := bypass.Analyze(&bypass.Page{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, p.config.Detectors)
	if detected {
		metrics.BlockDetections.WithLabelValues(source).Inc()
		res.Source = source
		res.Blocked = source != bypass.SourceConsentWall
	}

	p.logger.Debug("probe finished",
		"url", res.URL,
		"status", res.StatusCode,
		"duration", res.Duration,
		"detected", detected,
		"source", source,
	)
	return res, nil
}
