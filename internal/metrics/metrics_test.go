package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv, err := Start(0, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	ScrollIterations.Inc()
	ItemsLoaded.Set(30)
	FieldMisses.WithLabelValues("address").Inc()
	ObservePause("scroll", 3*time.Second)
	ObservePause("batch", 0)
	BlockDetections.WithLabelValues("GoogleConsent").Inc()

	_, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("addr: %v", err)
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		"mapscrape_scroll_iterations_total",
		"mapscrape_items_loaded 30",
		`mapscrape_field_misses_total{field="address"}`,
		`mapscrape_pause_seconds_bucket{phase="scroll"`,
		`mapscrape_block_detections_total{source="GoogleConsent"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
	if strings.Contains(output, `mapscrape_pause_seconds_count{phase="batch"}`) {
		t.Errorf("zero pause should not be observed")
	}
}

func TestStopNil(t *testing.T) {
	var s *Server
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
