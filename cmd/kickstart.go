package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/internal/eventloop"
	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
)

// daemon bundles what every command needs to talk to the kernel.
type daemon struct {
	loop     *eventloop.Loop
	tree     *iftree.Tree
	engine   *fea.Engine
	platform *fea.Platform
}

func newDaemon(conf *Config) (*daemon, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("couldn't create the event loop: %w", err)
	}

	d := &daemon{
		loop: loop,
		tree: iftree.New(&conf.Tree),
	}

	// A nil *fea.Platform would make for a non-nil interface.
	var platform nl.Platform
	if p, err := fea.NewPlatform(conf.SysfsPath); err != nil {
		slog.Warn("no sysfs, MTU and carrier won't be looked up", "path", conf.SysfsPath, "err", err)
	} else {
		platform = p
		d.platform = p
	}

	d.engine = fea.NewEngine(loop, d.tree, platform, &conf.Fea)

	return d, nil
}

func (d *daemon) close() error {
	errs := []error{d.engine.Stop(), d.loop.Close()}
	if d.platform != nil {
		errs = append(errs, d.platform.Close())
	}
	return errors.Join(errs...)
}

func writePid(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func run(ctx context.Context, conf *Config, confPath string) error {
	slog.Debug("running with", "conf", conf)

	d, err := newDaemon(conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			slog.Error("error shutting the engine down", "err", err)
		}
	}()

	if err := d.engine.Start(ctx); err != nil {
		return fmt.Errorf("couldn't start the engine: %w", err)
	}

	remote := fea.NewRemote(d.engine, d.loop)

	backends, err := createBackends(conf, remote)
	if err != nil {
		return err
	}
	defer cleanupBackends(backends)

	plugins, err := createPlugins(conf, remote)
	if err != nil {
		return err
	}
	if err := initPlugins(plugins); err != nil {
		return err
	}
	defer cleanupPlugins(plugins)

	if err := writePid(conf.PidPath); err != nil {
		slog.Warn("couldn't write the pid file", "path", conf.PidPath, "err", err)
	} else if conf.PidPath != "" {
		defer os.Remove(conf.PidPath)
	}

	done := make(chan struct{})
	defer close(done)

	for _, backend := range backends {
		ch := make(chan types.Event, conf.Fea.EventBuffer)
		d.engine.AddSink(ch)
		go backend.Run(done, ch)
	}

	for _, plugin := range plugins {
		go plugin.Run(done)
	}

	w, err := newConfWatcher(confPath, conf, d.loop, d.engine, d.tree)
	if err != nil {
		slog.Warn("configuration changes won't be picked up", "err", err)
	} else {
		defer w.close()
		go w.run(ctx)
	}

	slog.Info("tracking the kernel", "stats", d.engine.Stats())

	if err := d.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("the event loop died: %w", err)
	}

	slog.Info("exiting", "stats", d.engine.Stats())

	return nil
}
