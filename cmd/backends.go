package main

import (
	"fmt"
	"log/slog"

	"github.com/greearb/xorp.ct-sub013/backends/prometheus"
	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/types"
)

func createBackends(c *Config, remote *fea.Remote) ([]types.Backend, error) {
	backends := []types.Backend{}

	if c.Backends != nil {
		if c.Backends.Prometheus != nil {
			b, err := prometheus.NewPrometheusBackend(c.Backends.Prometheus, remote)
			if err != nil {
				return nil, fmt.Errorf("error initialising the prometheus backend: %w", err)
			}
			backends = append(backends, b)
		}
	}

	return backends, nil
}

func cleanupBackends(backends []types.Backend) {
	for _, backend := range backends {
		if err := backend.Cleanup(); err != nil {
			slog.Error("error cleaning up backend", "backend", backend, "err", err)
		}
	}
}
