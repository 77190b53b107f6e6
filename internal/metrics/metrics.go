package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScrollIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscrape_scroll_iterations_total",
			Help: "Total number of scroll commands issued against the results panel",
		},
	)

	ItemsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapscrape_items_loaded",
			Help: "Items materialized in the results panel at the end of the last load",
		},
	)

	Stalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscrape_stalls_total",
			Help: "Loads that stopped because the panel stopped growing",
		},
	)

	RecordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscrape_records_extracted_total",
			Help: "Total number of records produced by the extractor",
		},
	)

	FieldMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscrape_field_misses_total",
			Help: "Fields that fell back to empty during extraction",
		},
		[]string{"field"},
	)

	PauseSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapscrape_pause_seconds",
			Help:    "Randomized pauses taken, by phase",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"phase"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscrape_sink_errors_total",
			Help: "Listings a record sink failed to save",
		},
		[]string{"sink"},
	)

	BlockDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscrape_block_detections_total",
			Help: "Block pages, challenges and consent walls seen",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscrape_proxy_failures_total",
			Help: "Requests or sessions that failed through a proxy",
		},
	)
)

// ObservePause records a pause of d in phase. Zero pauses are not recorded.
func ObservePause(phase string, d time.Duration) {
	if d <= 0 {
		return
	}
	PauseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start begins listening on the specified port and exposes /metrics. Port 0
// picks a free port; see Addr.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	logger.Info("metrics server listening", "addr", ln.Addr().String())
	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
