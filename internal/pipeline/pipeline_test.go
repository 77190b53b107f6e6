package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/browser/browsertest"
	"github.com/FranksOps/mapscrape/internal/config"
	"github.com/FranksOps/mapscrape/internal/fingerprint"
	"github.com/FranksOps/mapscrape/internal/scraper"
	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/FranksOps/mapscrape/internal/storage/document"
	"github.com/FranksOps/mapscrape/pkg/pacing"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

// fakeMaps returns a driver whose panel holds total items, growing by 10 per
// scroll from an initial 10.
func fakeMaps(total int) *browsertest.Driver {
	sel := scraper.DefaultSelectors()

	items := make([]browser.Element, total)
	for i := range items {
		items[i] = browsertest.NewElement("").
			WithChild(sel.Name, browsertest.NewElement(fmt.Sprintf("Place %d", i))).
			WithChild(sel.Address, browsertest.NewElement(fmt.Sprintf("Street %d", i)))
	}

	d := browsertest.NewDriver(scraper.DefaultBaseURL)
	d.Nodes[sel.SearchInput] = browsertest.NewElement("")
	d.Nodes[sel.SearchButton] = browsertest.NewElement("")
	d.Nodes[sel.Panel] = &browsertest.Feed{
		ItemSelector: sel.Item,
		Items:        items,
		Initial:      min(10, total),
		Step:         10,
	}
	return d
}

func testConfig(d *browsertest.Driver) Config {
	return Config{
		Launcher:  d.Launcher(),
		Loader:    scraper.LoaderConfig{Pacing: pacing.None{}},
		Extractor: scraper.ExtractorConfig{Pacing: pacing.None{}},
	}
}

func mustRequest(t *testing.T, target int) scraper.SearchRequest {
	t.Helper()
	req, err := scraper.NewSearchRequest("cafe", "Berlin", target)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

type brokenBackend struct{}

func (brokenBackend) Save(context.Context, *storage.Listing) error {
	return errors.New("disk full")
}
func (brokenBackend) Query(context.Context, storage.Filter) ([]*storage.Listing, error) {
	return nil, nil
}
func (brokenBackend) Close() error { return nil }

func TestPipeline_Run(t *testing.T) {
	dir := t.TempDir()
	d := fakeMaps(35)

	sinks, err := OpenSinks(context.Background(), config.SinksConfig{
		NDJSON: filepath.Join(dir, "listings.ndjson"),
		SQLite: filepath.Join(dir, "listings.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open sinks: %v", err)
	}
	defer CloseSinks(sinks)

	cfg := testConfig(d)
	cfg.Sinks = sinks

	res, err := New(cfg).Run(context.Background(), mustRequest(t, 20), filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.Closed() != 1 {
		t.Errorf("expected the browser closed once, got %d", d.Closed())
	}
	if len(res.Records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(res.Records))
	}
	if res.OutputPath != filepath.Join(dir, "out", document.FileName) {
		t.Errorf("unexpected output path %s", res.OutputPath)
	}

	written, err := document.Read(res.OutputPath)
	if err != nil {
		t.Fatalf("read result file: %v", err)
	}
	for i, r := range written {
		want := storage.Record{Name: fmt.Sprintf("Place %d", i), Address: fmt.Sprintf("Street %d", i)}
		if r != want {
			t.Fatalf("record %d: got %+v, want %+v", i, r, want)
		}
	}

	for _, s := range sinks {
		saved, err := s.Backend.Query(context.Background(), storage.Filter{RunID: res.RunID})
		if err != nil {
			t.Fatalf("%s query: %v", s.Name, err)
		}
		if len(saved) != 20 {
			t.Errorf("%s: expected 20 listings, got %d", s.Name, len(saved))
			continue
		}
		if saved[0].Position != 0 || saved[0].Name != "Place 0" || saved[0].Query != "cafe Berlin" {
			t.Errorf("%s: unexpected first listing %+v", s.Name, saved[0])
		}
	}

	if res.Summary.Records != 20 || res.Summary.EmptyFields["rating"] != 20 {
		t.Errorf("unexpected summary %+v", res.Summary)
	}
	if len(res.Summary.SinkErrors) != 0 {
		t.Errorf("expected no sink errors, got %v", res.Summary.SinkErrors)
	}
}

func TestPipeline_SinkFailureIsNotFatal(t *testing.T) {
	d := fakeMaps(5)
	cfg := testConfig(d)
	cfg.Sinks = []Sink{{Name: "broken", Backend: brokenBackend{}}}

	res, err := New(cfg).Run(context.Background(), mustRequest(t, 5), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary.SinkErrors["broken"] != 5 {
		t.Errorf("expected 5 sink errors, got %v", res.Summary.SinkErrors)
	}
}

func TestPipeline_LocatorFailure(t *testing.T) {
	dir := t.TempDir()
	d := fakeMaps(5)
	delete(d.Nodes, scraper.DefaultSelectors().Panel)

	_, err := New(testConfig(d)).Run(context.Background(), mustRequest(t, 5), dir)
	if !errors.Is(err, scraper.ErrLocatorNotFound) {
		t.Fatalf("expected ErrLocatorNotFound, got %v", err)
	}
	if d.Closed() != 1 {
		t.Errorf("expected the browser closed after a failure, got %d", d.Closed())
	}
	if _, err := os.Stat(filepath.Join(dir, document.FileName)); !os.IsNotExist(err) {
		t.Errorf("expected no result file after a failed load")
	}
}

func TestPipeline_Canceled(t *testing.T) {
	d := fakeMaps(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(d)).Run(ctx, mustRequest(t, 5), t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if d.Closed() != 1 {
		t.Errorf("expected the browser closed after cancellation, got %d", d.Closed())
	}
}

func TestPipeline_ProbeBlock(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Our systems have detected unusual traffic from your computer network."))
	}))
	defer ts.Close()

	prober, err := scraper.NewProber(scraper.ProbeConfig{Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatal(err)
	}

	var launches atomic.Int32
	d := fakeMaps(5)
	cfg := testConfig(d)
	cfg.Launcher = func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
		launches.Add(1)
		return d, nil
	}
	cfg.Loader.BaseURL = ts.URL + "/maps"
	cfg.Prober = prober

	t.Run("fail on block", func(t *testing.T) {
		cfg.FailOnBlock = true
		_, err := New(cfg).Run(context.Background(), mustRequest(t, 5), t.TempDir())
		if !errors.Is(err, scraper.ErrBlocked) {
			t.Fatalf("expected ErrBlocked, got %v", err)
		}
		if launches.Load() != 0 {
			t.Errorf("browser must not start after a blocked probe")
		}
	})

	t.Run("continue on block", func(t *testing.T) {
		cfg.FailOnBlock = false
		res, err := New(cfg).Run(context.Background(), mustRequest(t, 5), t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Summary.ProbeSource == "" {
			t.Errorf("expected the probe source in the summary")
		}
		if launches.Load() != 1 {
			t.Errorf("expected one browser launch, got %d", launches.Load())
		}
	})
}

func TestOpenSinks_None(t *testing.T) {
	sinks, err := OpenSinks(context.Background(), config.SinksConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sinks) != 0 {
		t.Errorf("expected no sinks, got %d", len(sinks))
	}
}

func TestOpenSinks_FailureClosesOpened(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSinks(context.Background(), config.SinksConfig{
		NDJSON: filepath.Join(dir, "listings.ndjson"),
		CSV:    filepath.Join(dir, "missing", "listings.csv"),
	}, nil)
	if err == nil {
		t.Fatal("expected error for a csv path in a missing directory")
	}
}

func TestPipeline_UnusableOutputDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	var launches atomic.Int32
	d := fakeMaps(30)
	cfg := testConfig(d)
	cfg.Launcher = func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
		launches.Add(1)
		return d, nil
	}

	_, err := New(cfg).Run(context.Background(), mustRequest(t, 30), filepath.Join(file, "out"))
	if err == nil {
		t.Fatal("expected an error for an output dir below a regular file")
	}
	if launches.Load() != 0 {
		t.Errorf("browser must not start when the output dir is unusable")
	}
	if len(d.Visited()) != 0 {
		t.Errorf("expected no navigation, got %v", d.Visited())
	}
}

func TestPipeline_PreflightSharesSessionIdentity(t *testing.T) {
	preflight := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preflight <- r.Header.Get("User-Agent")
	}))
	defer ts.Close()

	uas := useragent.NewPool([]string{"Agent/1", "Agent/2", "Agent/3", "Agent/4"})
	prober, err := scraper.NewProber(scraper.ProbeConfig{Fingerprint: fingerprint.ProfileGo, UAPool: uas})
	if err != nil {
		t.Fatal(err)
	}

	d := fakeMaps(5)
	var sessionUA string
	cfg := testConfig(d)
	cfg.UAPool = uas
	cfg.Prober = prober
	cfg.Loader.BaseURL = ts.URL + "/maps"
	cfg.Launcher = func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
		sessionUA = opts.Identity.UserAgent
		return d, nil
	}

	if _, err := New(cfg).Run(context.Background(), mustRequest(t, 5), t.TempDir()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua := <-preflight; ua == "" || ua != sessionUA {
		t.Errorf("preflight used %q, session used %q", ua, sessionUA)
	}
}
