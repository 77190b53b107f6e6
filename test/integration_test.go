//go:build integration

package test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/mapscrape/internal/browser"
	"github.com/FranksOps/mapscrape/internal/pipeline"
	"github.com/FranksOps/mapscrape/internal/scraper"
	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/FranksOps/mapscrape/internal/storage/document"
	"github.com/FranksOps/mapscrape/internal/storage/jsonbackend"
	"github.com/FranksOps/mapscrape/pkg/pacing"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

// mapsPage imitates the parts of the Maps client the scraper touches: a
// search box, and a result panel that appends ten items whenever it is
// scrolled to the bottom, up to total.
const mapsPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Maps</title>
<style>
  #panel { height: 300px; overflow-y: scroll; }
  div[role="article"] { height: 100px; }
</style></head>
<body>
<input id="searchboxinput" type="text">
<button id="searchbox-searchbutton" onclick="search()">Search</button>
<div id="results"></div>
<script>
var total = %d, shown = 0;
function add(n) {
  var panel = document.getElementById('panel');
  for (var i = 0; i < n && shown < total; i++, shown++) {
    var item = document.createElement('div');
    item.setAttribute('role', 'article');
    var html = '<h3>Place ' + shown + '</h3>';
    if (shown %% 2 === 0) {
      html += '<span class="section-result-location">Street ' + shown + '</span>';
    }
    html += '<span aria-label="4.5 stars">4.5</span>';
    item.innerHTML = html;
    panel.appendChild(item);
  }
}
function search() {
  var q = document.getElementById('searchboxinput').value;
  var panel = document.createElement('div');
  panel.id = 'panel';
  panel.setAttribute('role', 'region');
  panel.setAttribute('aria-label', 'Results for ' + q);
  document.getElementById('results').appendChild(panel);
  add(10);
  panel.addEventListener('scroll', function () {
    if (panel.scrollTop + panel.clientHeight >= panel.scrollHeight - 5) add(10);
  });
}
</script>
</body></html>`

func newMapsServer(total int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, mapsPage, total)
	}))
}

func requireBrowser(t *testing.T, engine browser.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := browser.Launch(ctx, browser.Options{Engine: engine, Headless: true})
	if err != nil {
		t.Skipf("%s browser unavailable: %v", engine, err)
	}
	_ = d.Close()
}

func fastPacing() pacing.Policy {
	return &pacing.Random{
		Settle: pacing.Range{Min: 200 * time.Millisecond, Max: 300 * time.Millisecond},
		Scroll: pacing.Range{Min: 100 * time.Millisecond, Max: 150 * time.Millisecond},
	}
}

func runPipeline(t *testing.T, engine browser.Engine, total, target int) (*pipeline.Result, storage.Backend) {
	t.Helper()
	requireBrowser(t, engine)

	ts := newMapsServer(total)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	sink, err := jsonbackend.New(filepath.Join(dir, "listings.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	p := pipeline.New(pipeline.Config{
		Browser: browser.Options{
			Engine:       engine,
			Headless:     true,
			ImplicitWait: 5 * time.Second,
		},
		UAPool:    useragent.NewPool(nil),
		Loader:    scraper.LoaderConfig{BaseURL: ts.URL, Pacing: fastPacing(), StallLimit: 5},
		Extractor: scraper.ExtractorConfig{Pacing: pacing.None{}, Mode: scraper.ModeHTML},
		Sinks:     []pipeline.Sink{{Name: "ndjson", Backend: sink}},
		Logger:    slog.Default(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req, err := scraper.NewSearchRequest("cafe", "Berlin", target)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(ctx, req, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res, sink
}

func checkRecords(t *testing.T, records []storage.Record) {
	t.Helper()
	for i, r := range records {
		if r.Name != fmt.Sprintf("Place %d", i) {
			t.Fatalf("record %d out of order: %+v", i, r)
		}
		wantAddr := ""
		if i%2 == 0 {
			wantAddr = fmt.Sprintf("Street %d", i)
		}
		if r.Address != wantAddr {
			t.Errorf("record %d: address %q, want %q", i, r.Address, wantAddr)
		}
		if r.Rating != "4.5 stars" {
			t.Errorf("record %d: rating %q", i, r.Rating)
		}
	}
}

func TestIntegration_ScrollsToTarget(t *testing.T) {
	for _, engine := range []browser.Engine{browser.EngineChromedp, browser.EngineRod} {
		t.Run(string(engine), func(t *testing.T) {
			res, sink := runPipeline(t, engine, 45, 30)

			if len(res.Records) != 30 {
				t.Fatalf("expected 30 records, got %d", len(res.Records))
			}
			checkRecords(t, res.Records)

			written, err := document.Read(res.OutputPath)
			if err != nil {
				t.Fatalf("read result file: %v", err)
			}
			if len(written) != 30 {
				t.Errorf("expected 30 records on disk, got %d", len(written))
			}

			saved, err := sink.Query(context.Background(), storage.Filter{RunID: res.RunID})
			if err != nil {
				t.Fatal(err)
			}
			if len(saved) != 30 {
				t.Errorf("expected 30 listings in the sink, got %d", len(saved))
			}
		})
	}
}

func TestIntegration_StallsOnShortPanel(t *testing.T) {
	res, _ := runPipeline(t, browser.EngineChromedp, 25, 100)

	if len(res.Records) != 25 {
		t.Fatalf("expected all 25 available records, got %d", len(res.Records))
	}
	if !res.Load.Stalled {
		t.Errorf("expected the load to report a stall")
	}
	checkRecords(t, res.Records)
}

func TestIntegration_ElementReads(t *testing.T) {
	for _, engine := range []browser.Engine{browser.EngineChromedp, browser.EngineRod} {
		t.Run(string(engine), func(t *testing.T) {
			requireBrowser(t, engine)
			ts := newMapsServer(20)
			defer ts.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			opts := browser.Options{Engine: engine, Headless: true, ImplicitWait: 5 * time.Second}
			err := browser.WithSession(ctx, nil, opts, func(ctx context.Context, d browser.Driver) error {
				if err := d.Navigate(ctx, ts.URL); err != nil {
					return err
				}
				button, err := d.Find(ctx, "#searchbox-searchbutton")
				if err != nil {
					return err
				}
				if err := button.Click(ctx); err != nil {
					return err
				}
				panel, err := d.Find(ctx, `div[role="region"][aria-label]`)
				if err != nil {
					return err
				}

				label, ok, err := panel.Attribute(ctx, "aria-label")
				if err != nil || !ok || label != "Results for " {
					t.Errorf("panel label: got %q, %v, %v", label, ok, err)
				}
				if _, ok, err := panel.Attribute(ctx, "data-missing"); err != nil || ok {
					t.Errorf("missing attribute: got ok=%v, err=%v", ok, err)
				}

				items, err := panel.FindAll(ctx, `div[role="article"]`)
				if err != nil {
					return err
				}
				if len(items) != 10 {
					t.Fatalf("expected 10 items before scrolling, got %d", len(items))
				}
				name, err := items[3].Find(ctx, "h3")
				if err != nil {
					return err
				}
				if text, err := name.Text(ctx); err != nil || text != "Place 3" {
					t.Errorf("item text: got %q, %v", text, err)
				}
				html, err := items[3].OuterHTML(ctx)
				if err != nil || !strings.Contains(html, `aria-label="4.5 stars"`) {
					t.Errorf("outer html: got %q, %v", html, err)
				}

				for i := 0; i < 5; i++ {
					if err := panel.ScrollByHeight(ctx); err != nil {
						return err
					}
					time.Sleep(100 * time.Millisecond)
				}
				items, err = panel.FindAll(ctx, `div[role="article"]`)
				if err != nil {
					return err
				}
				if len(items) != 20 {
					t.Errorf("expected 20 items after scrolling, got %d", len(items))
				}
				return nil
			})
			if err != nil {
				t.Fatalf("session: %v", err)
			}
		})
	}
}
