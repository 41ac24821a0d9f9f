package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
)

// oneShot brings up an engine that won't listen for notifications.
func oneShot(ctx context.Context, confPath string, sync bool) (*daemon, error) {
	conf, err := ReadConf(confPath)
	if err != nil {
		return nil, err
	}
	conf.Fea.Netlink.Groups = 0
	conf.Fea.SyncOnStart = sync

	d, err := newDaemon(conf)
	if err != nil {
		return nil, err
	}

	if err := d.engine.Start(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("couldn't start the engine: %w", err), d.close())
	}

	return d, nil
}

func dump(ctx context.Context, w io.Writer, confPath string, f func(io.Writer, *iftree.Tree)) error {
	d, err := oneShot(ctx, confPath, true)
	if err != nil {
		return err
	}

	f(w, d.tree)

	return d.close()
}

func dumpLinks(w io.Writer, tree *iftree.Tree) {
	for _, r := range tree.Ifaces() {
		fmt.Fprintln(w, r)
	}
}

func dumpAddrs(w io.Writer, tree *iftree.Tree) {
	for _, r := range tree.Ifaces() {
		for _, a := range tree.Addrs(r.Name) {
			fmt.Fprintln(w, a)
		}
	}
}

func dumpRoutes(w io.Writer, tree *iftree.Tree) {
	for _, r := range tree.Routes() {
		fmt.Fprintln(w, r)
	}
}

func getLink(ctx context.Context, w io.Writer, confPath string, index uint32) error {
	d, err := oneShot(ctx, confPath, false)
	if err != nil {
		return err
	}

	r, err := d.engine.Links.QueryLink(ctx, index)
	if err != nil {
		return errors.Join(err, d.close())
	}
	fmt.Fprintln(w, r)
	fmt.Fprintln(w, "single-link queries:", d.engine.Links.State())

	return d.close()
}
