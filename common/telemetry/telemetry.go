package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
)

// Telemetry serves the pprof and Prometheus endpoints on localhost
type Telemetry struct {
	log         *logger.Logger
	metrics     *metrics.Metrics
	pprofAddr   string
	metricsAddr string
	servers     []*http.Server
}

// New creates telemetry components. A port of 0 disables that endpoint.
func New(pprofPort, metricsPort int, m *metrics.Metrics, log *logger.Logger) *Telemetry {
	t := &Telemetry{
		log:     log,
		metrics: m,
	}
	if pprofPort > 0 {
		t.pprofAddr = fmt.Sprintf("localhost:%d", pprofPort)
	}
	if metricsPort > 0 && m != nil {
		t.metricsAddr = fmt.Sprintf(":%d", metricsPort)
	}
	return t
}

// Start starts the enabled endpoints in the background
func (t *Telemetry) Start(ctx context.Context) error {
	if t.pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		t.serve("pprof", t.pprofAddr, mux)
	}

	if t.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.metrics.Handler())
		t.serve("metrics", t.metricsAddr, mux)
	}

	return nil
}

func (t *Telemetry) serve(name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.servers = append(t.servers, srv)

	go func() {
		t.log.Info(name+" server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Warn(name+" server error", "error", err)
		}
	}()
}

// Shutdown stops the telemetry endpoints
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	if t.metrics != nil {
		t.metrics.ObserveStorage(operation, start)
	}
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}
