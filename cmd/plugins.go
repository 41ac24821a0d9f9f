package main

import (
	"fmt"
	"log/slog"

	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/plugins/api"
	"github.com/greearb/xorp.ct-sub013/types"
)

func createPlugins(c *Config, remote *fea.Remote) ([]types.Plugin, error) {
	plugins := []types.Plugin{}

	if c.Plugins != nil {
		if c.Plugins.Api != nil {
			plugins = append(plugins, api.New(c.Plugins.Api, remote))
		}
	}

	return plugins, nil
}

func initPlugins(plugins []types.Plugin) error {
	for _, plugin := range plugins {
		if err := plugin.Init(); err != nil {
			return fmt.Errorf("error setting up plugin %s: %w", plugin, err)
		}
	}
	return nil
}

func cleanupPlugins(plugins []types.Plugin) {
	for _, plugin := range plugins {
		if err := plugin.Cleanup(); err != nil {
			slog.Error("error cleaning up plugin", "plugin", plugin, "err", err)
		}
	}
}
