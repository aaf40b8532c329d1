package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics registers r's collectors on a fresh registry and serves them
// on addr at /metrics until ctx is cancelled. It blocks; run it in a
// goroutine.
func (r *Router) ServeMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := r.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("router: register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("router: metrics server: %w", err)
	}
	return nil
}
