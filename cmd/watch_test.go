package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
)

// inlinePoster runs posted work right away.
type inlinePoster struct{}

func (inlinePoster) Post(fn func()) error {
	fn()
	return nil
}

type tables chan uint32

func (t tables) SetTableID(table uint32) {
	t <- table
}

func writeConf(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("couldn't write %s: %v", path, err)
	}
}

func newWatcher(t *testing.T) (*confWatcher, string, *iftree.Tree, tables) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeConf(t, path, "fea: {netlink: {tableID: 1}}\n")

	conf, err := ReadConf(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tree := iftree.New(&conf.Tree)
	set := make(tables, 4)

	w, err := newConfWatcher(path, conf, inlinePoster{}, set, tree)
	if err != nil {
		t.Fatalf("couldn't set the watcher up: %v", err)
	}
	t.Cleanup(w.close)

	return w, path, tree, set
}

func TestReload(t *testing.T) {
	w, path, tree, set := newWatcher(t)

	writeConf(t, path, "fea: {netlink: {tableID: 100}}\ntree: {allInterfaces: false, interfaces: [eth0]}\n")
	if err := w.reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-set; got != 100 {
		t.Errorf("got table %d; want 100", got)
	}
	if tree.HasIface("eth1") || !tree.HasIface("eth0") {
		t.Errorf("the tree wasn't reconfigured")
	}

	// Same table: nothing to hand over.
	if err := w.reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("got an unneeded table change")
	}

	writeConf(t, path, "fea: {netlink: {tableId: 5}}\n")
	if err := w.reload(); err == nil {
		t.Errorf("expected an error for an invalid configuration")
	}
	if w.table != 100 || len(set) != 0 {
		t.Errorf("an invalid configuration was applied")
	}
}

func TestWatch(t *testing.T) {
	w, path, _, set := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	writeConf(t, path, "fea: {netlink: {tableID: 7}}\n")

	// The truncation can be noticed before the write lands.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-set:
			if got == 7 {
				return
			}
		case <-timeout:
			t.Fatalf("the change went unnoticed")
		}
	}
}
