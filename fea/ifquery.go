package fea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
	"golang.org/x/sys/unix"
)

var ErrNoSuchLink = errors.New("no such link")

// Capability records what we've learnt about the kernel's support for
// RTM_GETLINK requests naming a single interface.
type Capability int

const (
	CapabilityUnknown Capability = iota
	ProbingSingleQuery
	SingleQuerySupported
	FullDumpFallback
)

var capabilityNames = map[Capability]string{
	CapabilityUnknown:    "unknown",
	ProbingSingleQuery:   "probing single query",
	SingleQuerySupported: "single query supported",
	FullDumpFallback:     "full dump fallback",
}

func (c Capability) String() string {
	return capabilityNames[c]
}

// LinkQuerier fetches one link. Old kernels answer a single-link
// RTM_GETLINK with EINVAL: the first time that happens we switch to
// dumping every link and picking ours for good.
type LinkQuerier struct {
	dumper *Dumper
	state  Capability
	logger *slog.Logger
}

func NewLinkQuerier(d *Dumper) *LinkQuerier {
	return &LinkQuerier{dumper: d, logger: d.logger}
}

func (q *LinkQuerier) State() Capability {
	return q.state
}

// QueryLink returns the current state of the link at index. The record is
// decoded like any other, so links we don't manage come back as
// ErrNoSuchLink.
func (q *LinkQuerier) QueryLink(ctx context.Context, index uint32) (types.IfaceRecord, error) {
	if index == 0 {
		return types.IfaceRecord{}, fmt.Errorf("%w: index 0", ErrNoSuchLink)
	}

	if q.state == FullDumpFallback {
		return q.fromDump(ctx, index)
	}
	if q.state == CapabilityUnknown {
		q.state = ProbingSingleQuery
	}

	req, err := nl.NewGetLinkRequest(index)
	if err != nil {
		return types.IfaceRecord{}, err
	}

	evs, err := q.dumper.dump(ctx, req, nil)

	var kerr *nl.KernelError
	switch {
	case errors.As(err, &kerr) && kerr.Errno == unix.EINVAL:
		q.logger.Info("single link queries unsupported, falling back to full dumps", "index", index, "was", q.state)
		q.state = FullDumpFallback
		return q.fromDump(ctx, index)

	case errors.As(err, &kerr) && kerr.Errno == unix.ENODEV:
		// Understood, just nothing there.
		q.state = SingleQuerySupported
		return types.IfaceRecord{}, fmt.Errorf("%w: index %d: %w", ErrNoSuchLink, index, err)

	case err != nil:
		if q.state == ProbingSingleQuery {
			q.state = CapabilityUnknown
		}
		return types.IfaceRecord{}, fmt.Errorf("couldn't query link %d: %w", index, err)
	}

	q.state = SingleQuerySupported
	return pickLink(evs, index)
}

func (q *LinkQuerier) fromDump(ctx context.Context, index uint32) (types.IfaceRecord, error) {
	req, err := nl.NewGetLinkRequest(0)
	if err != nil {
		return types.IfaceRecord{}, err
	}

	evs, err := q.dumper.dump(ctx, req, nil)
	if err != nil {
		return types.IfaceRecord{}, fmt.Errorf("couldn't dump links looking for %d: %w", index, err)
	}
	return pickLink(evs, index)
}

func pickLink(evs []types.Event, index uint32) (types.IfaceRecord, error) {
	for _, ev := range evs {
		if ev.Kind == types.IfaceKind && ev.Iface.Index == index {
			return *ev.Iface, nil
		}
	}
	return types.IfaceRecord{}, fmt.Errorf("%w: index %d", ErrNoSuchLink, index)
}
