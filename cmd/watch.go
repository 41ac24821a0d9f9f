package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/rjeczalik/notify"
)

type poster interface {
	Post(fn func()) error
}

type tableSetter interface {
	SetTableID(table uint32)
}

// confWatcher re-reads the configuration whenever it changes on disk and
// applies what can be changed on the fly: the managed interfaces and the
// routing table.
type confWatcher struct {
	path   string
	loop   poster
	engine tableSetter
	tree   *iftree.Tree
	table  uint32

	c chan notify.EventInfo
}

func newConfWatcher(path string, conf *Config, loop poster, engine tableSetter, tree *iftree.Tree) (*confWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &confWatcher{
		path:   abs,
		loop:   loop,
		engine: engine,
		tree:   tree,
		table:  conf.Fea.Netlink.TableID,

		// A buffered channel so that we don't lose events when an editor
		// writes and renames in a row.
		c: make(chan notify.EventInfo, 8),
	}

	// Editors tend to replace files instead of writing to them, which
	// would leave a watch on the file itself dangling.
	if err := notify.Watch(filepath.Dir(abs), w.c, notify.Write|notify.Create|notify.Rename); err != nil {
		return nil, fmt.Errorf("couldn't watch %s: %w", abs, err)
	}

	return w, nil
}

func (w *confWatcher) close() {
	notify.Stop(w.c)
}

func (w *confWatcher) run(ctx context.Context) {
	for {
		select {
		case ei := <-w.c:
			if filepath.Base(ei.Path()) != filepath.Base(w.path) {
				continue
			}
			slog.Debug("configuration changed", "event", ei.Event())
			if err := w.reload(); err != nil {
				slog.Warn("keeping the current configuration", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *confWatcher) reload() error {
	conf, err := ReadConf(w.path)
	if err != nil {
		return err
	}

	w.tree.Reconfigure(conf.Tree)

	table := conf.Fea.Netlink.TableID
	if table == w.table {
		return nil
	}

	slog.Info("switching routing tables", "from", w.table, "to", table)
	if err := w.loop.Post(func() { w.engine.SetTableID(table) }); err != nil {
		return fmt.Errorf("couldn't hand the table change over: %w", err)
	}
	w.table = table

	return nil
}
