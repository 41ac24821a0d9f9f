package netlink

import (
	"fmt"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// The builders below leave the sequence number, the pid and the length
// zeroed: the socket stamps them at send time.

// NewGetLinkRequest asks for a single link or, for index 0, for all of them.
func NewGetLinkRequest(index uint32) (netlink.Message, error) {
	lm := rtnetlink.LinkMessage{
		Family: unix.AF_UNSPEC,
		Index:  index,
	}

	data, err := lm.MarshalBinary()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("couldn't marshal the link message: %w", err)
	}

	flags := netlink.Request
	if index == 0 {
		flags |= netlink.Dump
	}

	return netlink.Message{
		Header: netlink.Header{Type: unix.RTM_GETLINK, Flags: flags},
		Data:   data,
	}, nil
}

// NewGetAddrRequest dumps every address of the given family.
func NewGetAddrRequest(family types.Family) (netlink.Message, error) {
	am := rtnetlink.AddressMessage{
		Family: uint8(family),
	}

	data, err := am.MarshalBinary()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("couldn't marshal the address message: %w", err)
	}

	return netlink.Message{
		Header: netlink.Header{Type: unix.RTM_GETADDR, Flags: netlink.Request | netlink.Dump},
		Data:   data,
	}, nil
}

// NewGetRouteRequest dumps the routes of the given family. The kernel may
// or may not honour the table: the decoder filters again regardless.
func NewGetRouteRequest(family types.Family, table uint32) (netlink.Message, error) {
	rm := rtnetlink.RouteMessage{
		Family: uint8(family),
	}
	setTable(&rm, table)

	data, err := rm.MarshalBinary()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("couldn't marshal the route message: %w", err)
	}

	return netlink.Message{
		Header: netlink.Header{Type: unix.RTM_GETROUTE, Flags: netlink.Request | netlink.Dump},
		Data:   data,
	}, nil
}

// NewRouteRequest installs (Added or Changed) or removes (Deleted) entry in
// table. Routes are tagged with RTPROT_XORP so we recognise them when the
// kernel hands them back and we always ask for an acknowledgement.
func NewRouteRequest(op types.Op, entry types.RouteEntry, table uint32) (netlink.Message, error) {
	if entry.Family.Bits() == 0 {
		return netlink.Message{}, fmt.Errorf("%w: route for %s", ErrFamilyMismatch, entry.Family)
	}
	if entry.Dst.IsValid() && entry.Dst.Addr().Is4() != (entry.Family == types.IPv4) {
		return netlink.Message{}, fmt.Errorf("%w: %s isn't an %s prefix", ErrFamilyMismatch, entry.Dst, entry.Family)
	}

	var (
		t     netlink.HeaderType
		flags = netlink.Request | netlink.Acknowledge
	)
	switch op {
	case types.Added:
		t, flags = unix.RTM_NEWROUTE, flags|netlink.Create|netlink.Excl
	case types.Changed:
		t, flags = unix.RTM_NEWROUTE, flags|netlink.Create|netlink.Replace
	case types.Deleted:
		t = unix.RTM_DELROUTE
	default:
		return netlink.Message{}, fmt.Errorf("unknown route operation %d", op)
	}

	var dstLen uint8
	if entry.Dst.IsValid() {
		dstLen = uint8(entry.Dst.Bits())
	}

	rm := rtnetlink.RouteMessage{
		Family:    uint8(entry.Family),
		DstLength: dstLen,
		Protocol:  RTPROT_XORP,
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Type:      unix.RTN_UNICAST,
	}
	setTable(&rm, table)

	switch {
	case entry.Discard:
		rm.Type = unix.RTN_BLACKHOLE
	case entry.Unreachable:
		rm.Type = unix.RTN_UNREACHABLE
	default:
		if entry.Index != 0 {
			rm.Attributes.OutIface = entry.Index
		}
		if entry.NextHop.IsValid() && !entry.NextHop.IsUnspecified() {
			rm.Attributes.Gateway = entry.NextHop.AsSlice()
		} else if entry.Index != 0 {
			rm.Scope = unix.RT_SCOPE_LINK
		}
	}

	if entry.Dst.IsValid() && entry.Dst.Bits() > 0 {
		rm.Attributes.Dst = entry.Dst.Masked().Addr().AsSlice()
	}
	if entry.Metric != types.UnknownMetric {
		rm.Attributes.Priority = entry.Metric
	}

	data, err := rm.MarshalBinary()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("couldn't marshal the route message: %w", err)
	}

	return netlink.Message{
		Header: netlink.Header{Type: t, Flags: flags},
		Data:   data,
	}, nil
}

// setTable places table in rtm_table when it fits and in RTA_TABLE
// otherwise, just like iproute2 does.
func setTable(rm *rtnetlink.RouteMessage, table uint32) {
	if table == 0 {
		return
	}
	if table < 256 {
		rm.Table = uint8(table)
		return
	}
	rm.Table = unix.RT_TABLE_UNSPEC
	rm.Attributes.Table = table
}
