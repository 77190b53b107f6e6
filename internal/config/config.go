// Package config loads run configuration from defaults, an optional file and
// MAPSCRAPE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/fingerprint"
	"github.com/FranksOps/mapscrape/internal/report"
	"github.com/FranksOps/mapscrape/internal/scraper"
	"github.com/FranksOps/mapscrape/pkg/pacing"
)

// EnvPrefix prefixes every environment override; dots in keys become
// underscores, so loader.stall_limit is MAPSCRAPE_LOADER_STALL_LIMIT.
const EnvPrefix = "MAPSCRAPE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	BaseURL     string            `mapstructure:"base_url"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Pacing      PacingConfig      `mapstructure:"pacing"`
	Loader      LoaderConfig      `mapstructure:"loader"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Selectors   scraper.Selectors `mapstructure:"selectors"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Sinks       SinksConfig       `mapstructure:"sinks"`
	MetricsPort int               `mapstructure:"metrics_port"`
	Report      ReportConfig      `mapstructure:"report"`
	Log         LogConfig         `mapstructure:"log"`
}

type BrowserConfig struct {
	Engine       string        `mapstructure:"engine"`
	Headless     bool          `mapstructure:"headless"`
	ImplicitWait time.Duration `mapstructure:"implicit_wait"`
	ExecPath     string        `mapstructure:"exec_path"`
	UserAgents   []string      `mapstructure:"user_agents"`
	ProxyFile    string        `mapstructure:"proxy_file"`
}

type PacingConfig struct {
	SettleMin time.Duration `mapstructure:"settle_min"`
	SettleMax time.Duration `mapstructure:"settle_max"`
	ScrollMin time.Duration `mapstructure:"scroll_min"`
	ScrollMax time.Duration `mapstructure:"scroll_max"`
	BatchMin  time.Duration `mapstructure:"batch_min"`
	BatchMax  time.Duration `mapstructure:"batch_max"`
}

type LoaderConfig struct {
	StallLimit     int  `mapstructure:"stall_limit"`
	MaxScrolls     int  `mapstructure:"max_scrolls"`
	DismissConsent bool `mapstructure:"dismiss_consent"`
}

type ExtractorConfig struct {
	BatchSize int    `mapstructure:"batch_size"`
	Mode      string `mapstructure:"mode"`
}

type ProbeConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Fingerprint   string        `mapstructure:"fingerprint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	FailOnBlock   bool          `mapstructure:"fail_on_block"`
}

// SinksConfig enables optional record sinks next to maps_data.json. Empty
// values leave a sink off.
type SinksConfig struct {
	NDJSON   string        `mapstructure:"ndjson"`
	CSV      string        `mapstructure:"csv"`
	SQLite   string        `mapstructure:"sqlite"`
	Postgres string        `mapstructure:"postgres"`
	Elastic  ElasticConfig `mapstructure:"elastic"`
}

type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type ReportConfig struct {
	Format string `mapstructure:"format"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// New returns a viper instance with every default registered and the
// environment bound. Keys without a default are not picked up from the
// environment by Unmarshal, so every key gets one here.
func New() *viper.Viper {
	v := viper.New()

	sel := scraper.DefaultSelectors()
	p := pacing.Default()

	v.SetDefault("base_url", scraper.DefaultBaseURL)

	v.SetDefault("browser.engine", string(browser.EngineChromedp))
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.implicit_wait", browser.DefaultImplicitWait)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agents", []string{})
	v.SetDefault("browser.proxy_file", "")

	v.SetDefault("pacing.settle_min", p.Settle.Min)
	v.SetDefault("pacing.settle_max", p.Settle.Max)
	v.SetDefault("pacing.scroll_min", p.Scroll.Min)
	v.SetDefault("pacing.scroll_max", p.Scroll.Max)
	v.SetDefault("pacing.batch_min", p.Batch.Min)
	v.SetDefault("pacing.batch_max", p.Batch.Max)

	v.SetDefault("loader.stall_limit", scraper.DefaultStallLimit)
	v.SetDefault("loader.max_scrolls", 0)
	v.SetDefault("loader.dismiss_consent", true)

	v.SetDefault("extractor.batch_size", scraper.DefaultBatchSize)
	v.SetDefault("extractor.mode", string(scraper.ModeDOM))

	v.SetDefault("selectors.search_input", sel.SearchInput)
	v.SetDefault("selectors.search_button", sel.SearchButton)
	v.SetDefault("selectors.panel", sel.Panel)
	v.SetDefault("selectors.item", sel.Item)
	v.SetDefault("selectors.name", sel.Name)
	v.SetDefault("selectors.address", sel.Address)
	v.SetDefault("selectors.rating", sel.Rating)
	v.SetDefault("selectors.rating_attr", sel.RatingAttr)
	v.SetDefault("selectors.consent", sel.Consent)

	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("probe.timeout", 30*time.Second)
	v.SetDefault("probe.respect_robots", false)
	v.SetDefault("probe.fail_on_block", true)

	v.SetDefault("sinks.ndjson", "")
	v.SetDefault("sinks.csv", "")
	v.SetDefault("sinks.sqlite", "")
	v.SetDefault("sinks.postgres", "")
	v.SetDefault("sinks.elastic.addresses", []string{})
	v.SetDefault("sinks.elastic.username", "")
	v.SetDefault("sinks.elastic.password", "")
	v.SetDefault("sinks.elastic.index", "")

	v.SetDefault("metrics_port", 0)
	v.SetDefault("report.format", string(report.FormatText))
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file at path into v and decodes the result.
// Pass v from New, with any command flags already bound.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.BaseURL == "" {
		add("base_url is empty")
	}
	if _, err := browser.ParseEngine(c.Browser.Engine); err != nil {
		add("browser.engine: %v", err)
	}
	if _, err := scraper.ParseMode(c.Extractor.Mode); err != nil {
		add("extractor.mode: %v", err)
	}
	if _, err := fingerprint.ParseProfile(c.Probe.Fingerprint); err != nil {
		add("probe.fingerprint: %v", err)
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		add("report.format: %v", err)
	}
	if _, err := c.LogLevel(); err != nil {
		add("log.level: %v", err)
	}

	for name, r := range map[string][2]time.Duration{
		"settle": {c.Pacing.SettleMin, c.Pacing.SettleMax},
		"scroll": {c.Pacing.ScrollMin, c.Pacing.ScrollMax},
		"batch":  {c.Pacing.BatchMin, c.Pacing.BatchMax},
	} {
		if r[0] < 0 || r[1] < r[0] {
			add("pacing.%s range %s-%s", name, r[0], r[1])
		}
	}

	if c.Loader.StallLimit < 0 {
		add("loader.stall_limit %d is negative", c.Loader.StallLimit)
	}
	if c.Loader.MaxScrolls < 0 {
		add("loader.max_scrolls %d is negative", c.Loader.MaxScrolls)
	}
	if c.Extractor.BatchSize < 0 {
		add("extractor.batch_size %d is negative", c.Extractor.BatchSize)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		add("metrics_port %d out of range", c.MetricsPort)
	}

	return errors.Join(errs...)
}

// PacingPolicy builds the randomized pause policy.
func (c *Config) PacingPolicy() *pacing.Random {
	return &pacing.Random{
		Settle: pacing.Range{Min: c.Pacing.SettleMin, Max: c.Pacing.SettleMax},
		Scroll: pacing.Range{Min: c.Pacing.ScrollMin, Max: c.Pacing.ScrollMax},
		Batch:  pacing.Range{Min: c.Pacing.BatchMin, Max: c.Pacing.BatchMax},
	}
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return l, nil
}
