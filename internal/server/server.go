// Package server exposes the exporter over HTTP: the Prometheus scrape
// endpoint and a liveness probe. The scrape endpoint enforces a deadline on
// the whole gather, which in turn bounds the stats commands the collector
// may trigger.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/vios-tools/entstat-exporter/internal/collector"
)

// Options contains the configuration required to start the HTTP server.
type Options struct {
	ListenAddress string
	MetricsPath   string
	HealthPath    string
	ScrapeTimeout time.Duration
}

// Server serves the exporter's HTTP surface.
type Server struct {
	httpServer    *http.Server
	registry      *prometheus.Registry
	collector     *collector.RateCollector
	logger        *slog.Logger
	scrapeTimeout time.Duration
}

// New constructs a Server using the provided registry and collector.
func New(opts Options, registry *prometheus.Registry, col *collector.RateCollector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry:      registry,
		collector:     col,
		logger:        logger,
		scrapeTimeout: opts.ScrapeTimeout,
	}
	s.httpServer = &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           s.routes(opts.MetricsPath, opts.HealthPath),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(metricsPath, healthPath string) *http.ServeMux {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if healthPath == "" {
		healthPath = "/healthz"
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.InstrumentMetricHandler(
		s.registry,
		http.HandlerFunc(s.serveMetrics),
	))
	mux.HandleFunc(healthPath, s.serveHealthz)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.scrapeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scrapeTimeout)
		defer cancel()
	}

	// Hand the deadline to the collector so it reaches the samplers.
	if s.collector != nil {
		s.collector.SetContext(ctx)
		defer s.collector.ResetContext()
	}

	mfs, err := s.gather(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn("metrics gather aborted", "err", err)
		http.Error(w, "scrape timed out", http.StatusGatewayTimeout)
		return
	case err != nil:
		s.logger.Error("metrics gather failed", "err", err)
		http.Error(w, "metrics gather failed", http.StatusInternalServerError)
		return
	}

	s.writeMetrics(w, r, mfs)
}

// gather runs a registry gather bounded by ctx. The gather itself has no
// cancellation hook, so an expired deadline abandons the in-flight goroutine
// and it drains into the buffered channel when it eventually finishes.
func (s *Server) gather(ctx context.Context) ([]*dto.MetricFamily, error) {
	type result struct {
		mfs []*dto.MetricFamily
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		mfs, err := s.registry.Gather()
		resultCh <- result{mfs: mfs, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.mfs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) writeMetrics(w http.ResponseWriter, r *http.Request, mfs []*dto.MetricFamily) {
	contentType := expfmt.Negotiate(r.Header)
	w.Header().Set("Content-Type", string(contentType))

	encoder := expfmt.NewEncoder(w, contentType)
	for _, mf := range mfs {
		if err := encoder.Encode(mf); err != nil {
			s.logger.Error("encode metric family failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func (s *Server) serveHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
