package fea

import (
	"context"
	"errors"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/types"
)

var ErrNotStarted = errors.New("the engine isn't running")

// Doer runs fn on the goroutine owning the engine and waits for it.
type Doer interface {
	Do(ctx context.Context, fn func() error) error
}

// Remote lets other goroutines drive an Engine by running every call that
// touches the sockets through a Doer.
type Remote struct {
	engine *Engine
	doer   Doer
}

func NewRemote(e *Engine, d Doer) *Remote {
	return &Remote{engine: e, doer: d}
}

func (r *Remote) Tree() *iftree.Tree {
	return r.engine.Tree()
}

func (r *Remote) Stats() Stats {
	return r.engine.Stats()
}

func (r *Remote) QueryLink(ctx context.Context, index uint32) (types.IfaceRecord, error) {
	var rec types.IfaceRecord
	err := r.doer.Do(ctx, func() error {
		if r.engine.Links == nil {
			return ErrNotStarted
		}
		var err error
		rec, err = r.engine.Links.QueryLink(ctx, index)
		return err
	})
	return rec, err
}

func (r *Remote) AddRoute(ctx context.Context, e types.RouteEntry) error {
	return r.route(ctx, func(ri *RouteInstaller) error { return ri.Add(ctx, e) })
}

func (r *Remote) ReplaceRoute(ctx context.Context, e types.RouteEntry) error {
	return r.route(ctx, func(ri *RouteInstaller) error { return ri.Replace(ctx, e) })
}

func (r *Remote) DeleteRoute(ctx context.Context, e types.RouteEntry) error {
	return r.route(ctx, func(ri *RouteInstaller) error { return ri.Delete(ctx, e) })
}

func (r *Remote) route(ctx context.Context, fn func(*RouteInstaller) error) error {
	return r.doer.Do(ctx, func() error {
		if r.engine.Routes == nil {
			return ErrNotStarted
		}
		return fn(r.engine.Routes)
	})
}

// SetTableID moves the engine over to table once the loop gets to it.
func (r *Remote) SetTableID(ctx context.Context, table uint32) error {
	return r.doer.Do(ctx, func() error {
		r.engine.SetTableID(table)
		return nil
	})
}
