package fea

import (
	"context"
	"fmt"
	"log/slog"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
)

// RouteInstaller pushes forwarding entries into the kernel and waits for
// the verdict.
type RouteInstaller struct {
	session *Session
	dec     *Decoder
	logger  *slog.Logger
}

func NewRouteInstaller(s *Session, dec *Decoder, logger *slog.Logger) *RouteInstaller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RouteInstaller{session: s, dec: dec, logger: logger}
}

// Add installs e and fails if an identical route already exists.
func (ri *RouteInstaller) Add(ctx context.Context, e types.RouteEntry) error {
	return ri.do(ctx, types.Added, e)
}

// Replace installs e, overwriting whatever route the kernel had for it.
func (ri *RouteInstaller) Replace(ctx context.Context, e types.RouteEntry) error {
	return ri.do(ctx, types.Changed, e)
}

func (ri *RouteInstaller) Delete(ctx context.Context, e types.RouteEntry) error {
	return ri.do(ctx, types.Deleted, e)
}

func (ri *RouteInstaller) table(e types.RouteEntry) uint32 {
	if e.Table != 0 {
		return e.Table
	}
	return ri.dec.TableID
}

func (ri *RouteInstaller) do(ctx context.Context, op types.Op, e types.RouteEntry) error {
	req, err := nl.NewRouteRequest(op, e, ri.table(e))
	if err != nil {
		return err
	}

	seq, buf, err := ri.session.Do(ctx, req)
	if err == nil {
		err = nl.CheckRequest(buf, seq)
	}
	if err != nil {
		return fmt.Errorf("couldn't %s %s: %w", verb(op), e.Dst, err)
	}

	ri.logger.Debug("kernel accepted route", "op", op, "dst", e.Dst, "nexthop", e.NextHop, types.SeqKey, seq)

	return nil
}

func verb(op types.Op) string {
	switch op {
	case types.Added:
		return "add"
	case types.Changed:
		return "replace"
	}
	return "delete"
}
