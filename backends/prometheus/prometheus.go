package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusBackend struct {
	Config

	logger *slog.Logger
	reg    *prometheus.Registry
	m      *metrics
	server *http.Server
}

func (b *PrometheusBackend) String() string {
	return "Prometheus"
}

func NewPrometheusBackend(c *Config, src Source) (*PrometheusBackend, error) {
	b := PrometheusBackend{Config: *c, logger: types.NewLogger("prometheus", c.Log)}

	b.logger.Debug("initialising the prometheus backend")

	// Create a non-global registry.
	b.reg = prometheus.NewRegistry()

	b.m = newMetrics(src)
	if err := b.m.register(b.reg, b.logger); err != nil {
		return nil, fmt.Errorf("error registering the metrics: %v", err)
	}

	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg}))

	b.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", b.BindAddress, b.Port),
		Handler: handler,
	}

	return &b, nil
}

func (b *PrometheusBackend) Run(done <-chan struct{}, inChan <-chan types.Event) {
	b.logger.Debug("running the prometheus backend")

	go func() {
		if err := b.server.ListenAndServe(); err != nil {
			b.logger.Info("stopped listening", "err", err)
		}
	}()

	for {
		select {
		case ev, ok := <-inChan:
			if !ok {
				b.logger.Warn("somebody closed the input channel!")
				return
			}
			b.logger.Log(context.Background(), types.LevelTrace, "got an event", "event", ev)
			b.m.update(ev)
		case <-done:
			b.logger.Debug("cleanly exiting the prometheus backend")
			return
		}
	}
}

func (b *PrometheusBackend) Cleanup() error {
	b.logger.Debug("cleaning up the prometheus backend")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error shutting down the metrics server: %w", err)
	}

	return nil
}
