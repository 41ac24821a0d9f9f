// Package fea drives the kernel through netlink on behalf of the forwarding
// engine: it dumps and queries state, installs routes and turns kernel
// notifications into events.
package fea

import (
	"fmt"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Applier merges decoded records into the consumer's state.
type Applier interface {
	Apply(types.Event) error
}

// Decoder routes kernel messages to the right codec entry point with the
// collaborators and table filter in effect.
type Decoder struct {
	Tree     nl.IfTree
	Local    nl.LocalConfig
	Platform nl.Platform

	// TableID restricts routes to one table when non-zero.
	TableID uint32
}

func (d *Decoder) context() nl.DecodeContext {
	return nl.DecodeContext{
		Tree:        d.Tree,
		Local:       d.Local,
		Platform:    d.Platform,
		FilterTable: d.TableID != 0,
		TableID:     d.TableID,
	}
}

// Decode turns a link, address or route message into an event.
func (d *Decoder) Decode(m netlink.Message) (types.Event, error) {
	ctx := d.context()

	switch m.Header.Type {
	case unix.RTM_NEWLINK:
		r, err := nl.DecodeNewLink(m, ctx)
		if err != nil {
			return types.Event{}, err
		}
		return types.Event{Kind: types.IfaceKind, Iface: &r}, nil

	case unix.RTM_DELLINK:
		r, err := nl.DecodeDelLink(m, ctx)
		if err != nil {
			return types.Event{}, err
		}
		return types.Event{Kind: types.IfaceKind, Iface: &r}, nil

	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		r, err := nl.DecodeAddr(m, ctx)
		if err != nil {
			return types.Event{}, err
		}
		return types.Event{Kind: types.AddrKind, Addr: &r}, nil

	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE, unix.RTM_GETROUTE:
		r, err := nl.DecodeRoute(m, 0, ctx)
		if err != nil {
			return types.Event{}, err
		}
		return types.Event{Kind: types.RouteKind, Route: &r}, nil
	}

	return types.Event{}, fmt.Errorf("no decoder for %s", nl.TypeName(m.Header.Type))
}
