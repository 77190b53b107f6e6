// Command mapscrape collects business listings for a search on Google Maps
// and writes them to maps_data.json.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/config"
	"github.com/FranksOps/mapscrape/internal/fingerprint"
	"github.com/FranksOps/mapscrape/internal/metrics"
	"github.com/FranksOps/mapscrape/internal/pipeline"
	"github.com/FranksOps/mapscrape/internal/prompt"
	"github.com/FranksOps/mapscrape/internal/report"
	"github.com/FranksOps/mapscrape/internal/scraper"
	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "mapscrape",
		Short:         "Collect business listings from Google Maps",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := run(ctx, v, configFile, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	flags.String("report", string(report.FormatText), "run summary on stderr: text, json, html or none")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("engine", string(browser.EngineChromedp), "browser engine: chromedp or rod")
	flags.Bool("headless", false, "run the browser without a window")

	_ = v.BindPFlag("metrics_port", flags.Lookup("metrics-port"))
	_ = v.BindPFlag("report.format", flags.Lookup("report"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("browser.engine", flags.Lookup("engine"))
	_ = v.BindPFlag("browser.headless", flags.Lookup("headless"))

	return cmd
}

func run(ctx context.Context, v *viper.Viper, configFile string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Ask before anything expensive starts.
	answers, err := prompt.New(stdin, stdout).Ask()
	if err != nil {
		return err
	}
	req, err := scraper.NewSearchRequest(answers.BusinessType, answers.Location, answers.Count)
	if err != nil {
		return err
	}

	if cfg.MetricsPort > 0 {
		srv, err := metrics.Start(cfg.MetricsPort, logger)
		if err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	pcfg, err := pipelineConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.CloseSinks(pcfg.Sinks); err != nil {
			logger.Warn("closing sinks", "err", err)
		}
	}()

	res, err := pipeline.New(pcfg).Run(ctx, req, answers.OutputDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Loaded %d items\n", len(res.Records))
	fmt.Fprintf(stdout, "Saved to %s\n", res.OutputPath)

	format, _ := report.ParseFormat(cfg.Report.Format)
	return report.Write(stderr, format, res.Summary)
}

// pipelineConfig turns the loaded configuration into pipeline collaborators.
func pipelineConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Config, error) {
	engine, _ := browser.ParseEngine(cfg.Browser.Engine)
	mode, _ := scraper.ParseMode(cfg.Extractor.Mode)
	policy := cfg.PacingPolicy()

	uas := useragent.NewPool(cfg.Browser.UserAgents)

	var proxies *proxy.Pool
	if cfg.Browser.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.LoadFile(cfg.Browser.ProxyFile); err != nil {
			return pipeline.Config{}, err
		}
		logger.Info("proxies loaded", "count", proxies.Len())
	}

	pc := pipeline.Config{
		Browser: browser.Options{
			Engine:       engine,
			Headless:     cfg.Browser.Headless,
			ImplicitWait: cfg.Browser.ImplicitWait,
			ExecPath:     cfg.Browser.ExecPath,
		},
		UAPool:    uas,
		ProxyPool: proxies,
		Loader: scraper.LoaderConfig{
			BaseURL:        cfg.BaseURL,
			Selectors:      cfg.Selectors,
			Pacing:         policy,
			StallLimit:     cfg.Loader.StallLimit,
			MaxScrolls:     cfg.Loader.MaxScrolls,
			DismissConsent: cfg.Loader.DismissConsent,
		},
		Extractor: scraper.ExtractorConfig{
			Selectors: cfg.Selectors,
			Pacing:    policy,
			BatchSize: cfg.Extractor.BatchSize,
			Mode:      mode,
		},
		FailOnBlock: cfg.Probe.FailOnBlock,
		Logger:      logger,
	}

	if cfg.Probe.Enabled {
		profile, _ := fingerprint.ParseProfile(cfg.Probe.Fingerprint)
		prober, err := scraper.NewProber(scraper.ProbeConfig{
			Timeout:       cfg.Probe.Timeout,
			Fingerprint:   profile,
			UAPool:        uas,
			ProxyPool:     proxies,
			RespectRobots: cfg.Probe.RespectRobots,
			Logger:        logger,
		})
		if err != nil {
			return pipeline.Config{}, err
		}
		pc.Prober = prober
	}

	sinks, err := pipeline.OpenSinks(ctx, cfg.Sinks, logger)
	if err != nil {
		return pipeline.Config{}, err
	}
	pc.Sinks = sinks
	return pc, nil
}
