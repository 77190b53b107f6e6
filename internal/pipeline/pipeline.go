// Package pipeline runs one scrape end to end: optional probe, browser
// session, load, extract, result file and record sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/metrics"
	"github.com/FranksOps/mapscrape/internal/report"
	"github.com/FranksOps/mapscrape/internal/scraper"
	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/FranksOps/mapscrape/internal/storage/document"
	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

// Sink is a named record backend that receives every listing of a run.
type Sink struct {
	Name    string
	Backend storage.Backend
}

// Config wires the pipeline's collaborators.
type Config struct {
	// Browser holds engine options; the identity is chosen per run.
	Browser browser.Options
	// Launcher opens the browser. Nil uses browser.Launch.
	Launcher  browser.Launcher
	UAPool    *useragent.Pool
	ProxyPool *proxy.Pool

	Loader    scraper.LoaderConfig
	Extractor scraper.ExtractorConfig

	// Prober, when set, checks the base URL before the browser starts.
	Prober      *scraper.Prober
	FailOnBlock bool

	Sinks  []Sink
	Logger *slog.Logger
}

// Result is everything a finished run produced.
type Result struct {
	RunID      string
	Records    []storage.Record
	Load       *scraper.LoadResult
	OutputPath string
	Summary    report.Summary
}

// Pipeline runs scrapes with a fixed configuration.
type Pipeline struct {
	config Config
	logger *slog.Logger
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Launcher == nil {
		cfg.Launcher = browser.Launch
	}
	if cfg.Loader.BaseURL == "" {
		cfg.Loader.BaseURL = scraper.DefaultBaseURL
	}
	return &Pipeline{config: cfg, logger: cfg.Logger}
}

// Run scrapes req and writes maps_data.json into outputDir. The browser is
// closed before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, req scraper.SearchRequest, outputDir string) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "query", req.Query())

	if err := document.Prepare(outputDir); err != nil {
		return nil, err
	}

	// One identity per run, shared by the preflight and the session.
	opts := p.config.Browser
	opts.Identity = browser.NewIdentity(p.config.UAPool, p.config.ProxyPool)
	opts.Logger = logger

	probeSource, err := p.probe(ctx, logger, opts.Identity)
	if err != nil {
		return nil, err
	}

	loaderCfg, extractorCfg := p.config.Loader, p.config.Extractor
	loaderCfg.Logger, extractorCfg.Logger = logger, logger

	registry := scraper.NewRegistry()
	loader := scraper.NewLoader(loaderCfg, registry)
	extractor := scraper.NewExtractor(extractorCfg, registry)

	var (
		load    *scraper.LoadResult
		records []storage.Record
	)
	logger.Info("starting scrape", "target", req.TargetCount(), "engine", opts.Engine)

	err = browser.WithSession(ctx, p.config.Launcher, opts, func(ctx context.Context, d browser.Driver) error {
		// Handles must not outlive the session.
		defer registry.Invalidate()

		var err error
		load, err = loader.Load(ctx, d, req.Query(), req.TargetCount())
		if err != nil {
			return err
		}
		logger.Info("panel loaded",
			"loaded", load.Available,
			"handles", len(load.Handles),
			"scrolls", load.Scrolls,
			"stalled", load.Stalled,
			"partial", load.Partial,
		)

		records = extractor.Extract(ctx, load.Handles)
		return ctx.Err()
	})
	p.reportProxy(ctx, opts.Identity, err)
	if err != nil {
		return nil, fmt.Errorf("scrape %q: %w", req.Query(), err)
	}

	path, err := document.Write(outputDir, records)
	if err != nil {
		return nil, err
	}
	logger.Info("records written", "records", len(records), "path", path)

	sinkErrors := p.fanOut(ctx, logger, runID, req.Query(), records, start)

	summary := report.Summarize(report.Run{
		RunID:       runID,
		Query:       req.Query(),
		Target:      req.TargetCount(),
		Available:   load.Available,
		Scrolls:     load.Scrolls,
		Stalled:     load.Stalled,
		Partial:     load.Partial,
		ProbeSource: probeSource,
		OutputPath:  path,
		SinkErrors:  sinkErrors,
		Start:       start,
		End:         time.Now(),
	}, records)

	return &Result{
		RunID:      runID,
		Records:    records,
		Load:       load,
		OutputPath: path,
		Summary:    summary,
	}, nil
}

// probe returns the detection source seen by the preflight, if any. Only
// robots.txt refusals, blocks with FailOnBlock and cancellation stop the run;
// a failed request is logged and the browser is tried anyway.
func (p *Pipeline) probe(ctx context.Context, logger *slog.Logger, id browser.Identity) (string, error) {
	if p.config.Prober == nil {
		return "", nil
	}

	res, err := p.config.Prober.ProbeAs(ctx, p.config.Loader.BaseURL, id.UserAgent, id.Proxy)
	switch {
	case err == nil:
	case errors.Is(err, scraper.ErrDisallowed), ctx.Err() != nil:
		return "", err
	default:
		logger.Warn("probe failed, continuing", "err", err)
		return "", nil
	}

	if res.Blocked {
		if p.config.FailOnBlock {
			return res.Source, res.Err()
		}
		logger.Warn("probe detected a block, continuing", "source", res.Source, "status", res.StatusCode)
	} else if res.Source != "" {
		logger.Info("probe hit an interstitial", "source", res.Source)
	}
	return res.Source, nil
}

// reportProxy feeds the session outcome back into the proxy pool.
func (p *Pipeline) reportProxy(ctx context.Context, id browser.Identity, err error) {
	if id.Proxy == nil || p.config.ProxyPool == nil {
		return
	}
	if err == nil {
		_ = p.config.ProxyPool.MarkSuccess(id.Proxy)
		return
	}
	if ctx.Err() != nil {
		return
	}
	_ = p.config.ProxyPool.MarkFailure(id.Proxy)
	metrics.ProxyFailures.Inc()
}

// fanOut saves every record to every sink concurrently, one goroutine per
// sink. Sink failures are counted and logged but never fail the run.
func (p *Pipeline) fanOut(ctx context.Context, logger *slog.Logger, runID, query string, records []storage.Record, createdAt time.Time) map[string]int {
	if len(p.config.Sinks) == 0 || len(records) == 0 {
		return nil
	}

	listings := make([]*storage.Listing, len(records))
	for i, r := range records {
		listings[i] = &storage.Listing{
			ID:        uuid.NewString(),
			RunID:     runID,
			Query:     query,
			Position:  i,
			Record:    r,
			CreatedAt: createdAt.UTC(),
		}
	}

	failed := make([]int, len(p.config.Sinks))
	var g errgroup.Group
	for i, sink := range p.config.Sinks {
		g.Go(func() error {
			for _, l := range listings {
				if err := sink.Backend.Save(ctx, l); err != nil {
					failed[i]++
					metrics.SinkErrors.WithLabelValues(sink.Name).Inc()
					if failed[i] == 1 {
						logger.Warn("sink save failed", "sink", sink.Name, "position", l.Position, "err", err)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[string]int)
	for i, sink := range p.config.Sinks {
		if failed[i] > 0 {
			counts[sink.Name] += failed[i]
			logger.Warn("sink incomplete", "sink", sink.Name, "failed", failed[i], "total", len(listings))
		} else {
			logger.Debug("sink complete", "sink", sink.Name, "saved", len(listings))
		}
	}
	return counts
}
