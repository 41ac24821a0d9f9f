package netlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// ifInfoMsg mirrors struct ifinfomsg.
type ifInfoMsg struct {
	Family uint8
	Type   uint16
	Index  uint32
	Flags  uint32
	Change uint32
}

func parseIfInfoMsg(b []byte) (ifInfoMsg, error) {
	if len(b) < SizeofIfInfomsg {
		return ifInfoMsg{}, fmt.Errorf("%w: ifinfomsg short read (%d); want %d", ErrMalformedMessage, len(b), SizeofIfInfomsg)
	}
	return ifInfoMsg{
		Family: b[0],
		Type:   nlenc.Uint16(b[2:4]),
		Index:  nlenc.Uint32(b[4:8]),
		Flags:  nlenc.Uint32(b[8:12]),
		Change: nlenc.Uint32(b[12:16]),
	}, nil
}

// ifAddrMsg mirrors struct ifaddrmsg.
type ifAddrMsg struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

func parseIfAddrMsg(b []byte) (ifAddrMsg, error) {
	if len(b) < SizeofIfAddrmsg {
		return ifAddrMsg{}, fmt.Errorf("%w: ifaddrmsg short read (%d); want %d", ErrMalformedMessage, len(b), SizeofIfAddrmsg)
	}
	return ifAddrMsg{
		Family:    b[0],
		PrefixLen: b[1],
		Flags:     b[2],
		Scope:     b[3],
		Index:     nlenc.Uint32(b[4:8]),
	}, nil
}

// rtMsg mirrors struct rtmsg.
type rtMsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Tos      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

func parseRtMsg(b []byte) (rtMsg, error) {
	if len(b) < SizeofRtMsg {
		return rtMsg{}, fmt.Errorf("%w: rtmsg short read (%d); want %d", ErrMalformedMessage, len(b), SizeofRtMsg)
	}
	return rtMsg{
		Family:   b[0],
		DstLen:   b[1],
		SrcLen:   b[2],
		Tos:      b[3],
		Table:    b[4],
		Protocol: b[5],
		Scope:    b[6],
		Type:     b[7],
		Flags:    nlenc.Uint32(b[8:12]),
	}, nil
}

// logDiags reports what the attribute scanner refused without failing the
// decode: whatever was indexed before the problem is still usable.
func logDiags(m netlink.Message, a *Attrs) {
	for _, d := range a.Diags {
		slog.Debug("skipping malformed attribute", "type", TypeName(m.Header.Type),
			types.SeqKey, m.Header.Sequence, "diag", d.String())
	}
}

// DecodeNewLink turns an RTM_NEWLINK into an interface record. Links we
// haven't been configured to manage are reported as ErrIgnored.
func DecodeNewLink(m netlink.Message, ctx DecodeContext) (types.IfaceRecord, error) {
	if m.Header.Type != unix.RTM_NEWLINK {
		return types.IfaceRecord{}, fmt.Errorf("expected RTM_NEWLINK, got %s", TypeName(m.Header.Type))
	}

	ifi, err := parseIfInfoMsg(m.Data)
	if err != nil {
		return types.IfaceRecord{}, err
	}

	attrs := ScanAttrs(m.Data[SizeofIfInfomsg:], IFLA_MAX)
	logDiags(m, attrs)

	name, ok := attrs.String(unix.IFLA_IFNAME)
	if !ok || name == "" {
		return types.IfaceRecord{}, fmt.Errorf("%w: link %d carries no IFLA_IFNAME", ErrMalformedMessage, ifi.Index)
	}

	if ctx.Local != nil && !ctx.Local.HasIface(name) {
		return types.IfaceRecord{}, fmt.Errorf("%w: link %s isn't configured locally", ErrIgnored, name)
	}

	rec := types.IfaceRecord{
		Op:       types.Added,
		Name:     name,
		Vif:      name,
		Index:    ifi.Index,
		Flags:    ifi.Flags,
		Enabled:  ifi.Flags&unix.IFF_UP != 0,
		LinkType: ifi.Type,
	}

	if ctx.Tree != nil {
		if _, known := ctx.Tree.IfaceByIndex(ifi.Index); known {
			rec.Op = types.Changed
		}
	}

	if ifi.Type == unix.ARPHRD_ETHER {
		if mac, ok := attrs.Bytes(unix.IFLA_ADDRESS); ok && len(mac) == 6 {
			rec.MAC = net.HardwareAddr(mac)
		}
	}

	if mtu, ok := attrs.Uint32(unix.IFLA_MTU); ok {
		rec.MTU = mtu
	} else if ctx.Platform != nil {
		mtu, err := ctx.Platform.MTU(name)
		if err != nil {
			slog.Warn("couldn't read the MTU", "iface", name, "err", err)
		}
		rec.MTU = mtu
	}

	rec.NoCarrier = ifi.Flags&unix.IFF_LOWER_UP == 0
	if ctx.Platform != nil {
		carrier, err := ctx.Platform.Carrier(name)
		if err != nil {
			slog.Log(context.Background(), types.LevelTrace, "falling back to IFF_LOWER_UP for the carrier", "iface", name, "err", err)
		} else {
			rec.NoCarrier = !carrier
		}
	}

	return rec, nil
}

// DecodeDelLink turns an RTM_DELLINK into a deletion. It never consults the
// local configuration so that stale entries don't linger in the tree.
func DecodeDelLink(m netlink.Message, ctx DecodeContext) (types.IfaceRecord, error) {
	if m.Header.Type != unix.RTM_DELLINK {
		return types.IfaceRecord{}, fmt.Errorf("expected RTM_DELLINK, got %s", TypeName(m.Header.Type))
	}

	ifi, err := parseIfInfoMsg(m.Data)
	if err != nil {
		return types.IfaceRecord{}, err
	}

	attrs := ScanAttrs(m.Data[SizeofIfInfomsg:], IFLA_MAX)
	logDiags(m, attrs)

	name, _ := attrs.String(unix.IFLA_IFNAME)
	if name == "" && ctx.Tree != nil {
		if info, ok := ctx.Tree.IfaceByIndex(ifi.Index); ok {
			name = info.Name
		}
	}
	if name == "" {
		return types.IfaceRecord{}, fmt.Errorf("%w: can't name deleted link %d", ErrIgnored, ifi.Index)
	}

	return types.IfaceRecord{
		Op:       types.Deleted,
		Name:     name,
		Vif:      name,
		Index:    ifi.Index,
		Flags:    ifi.Flags,
		LinkType: ifi.Type,
	}, nil
}

// DecodeAddr handles both RTM_NEWADDR and RTM_DELADDR. It holds no state,
// so decoding the same message twice yields the same record.
func DecodeAddr(m netlink.Message, ctx DecodeContext) (types.AddrRecord, error) {
	var op types.Op
	switch m.Header.Type {
	case unix.RTM_NEWADDR:
		op = types.Added
	case unix.RTM_DELADDR:
		op = types.Deleted
	default:
		return types.AddrRecord{}, fmt.Errorf("expected RTM_NEWADDR or RTM_DELADDR, got %s", TypeName(m.Header.Type))
	}

	ifa, err := parseIfAddrMsg(m.Data)
	if err != nil {
		return types.AddrRecord{}, err
	}

	family := types.Family(ifa.Family)
	if family.Bits() == 0 {
		return types.AddrRecord{}, fmt.Errorf("%w: address family %d", ErrFamilyMismatch, ifa.Family)
	}
	if int(ifa.PrefixLen) > family.Bits() {
		return types.AddrRecord{}, fmt.Errorf("%w: prefix length %d for %s", ErrMalformedMessage, ifa.PrefixLen, family)
	}

	if ctx.Tree == nil {
		return types.AddrRecord{}, fmt.Errorf("%w: no interface tree to resolve index %d", ErrIgnored, ifa.Index)
	}
	iface, ok := ctx.Tree.IfaceByIndex(ifa.Index)
	if !ok {
		return types.AddrRecord{}, fmt.Errorf("%w: address on unknown interface %d", ErrIgnored, ifa.Index)
	}

	attrs := ScanAttrs(m.Data[SizeofIfAddrmsg:], IFA_MAX)
	logDiags(m, attrs)

	// iproute2 documents IFA_ADDRESS as the peer on point-to-point links
	// and IFA_LOCAL as our end. When only one of them is present they are
	// the same thing.
	local, hasLocal := attrs.Addr(unix.IFA_LOCAL, family)
	addr, hasAddr := attrs.Addr(unix.IFA_ADDRESS, family)
	switch {
	case !hasLocal && !hasAddr:
		return types.AddrRecord{}, fmt.Errorf("%w: address message on %s carries no address", ErrMalformedMessage, iface.Name)
	case !hasLocal:
		local = addr
	case !hasAddr:
		addr = local
	}

	rec := types.AddrRecord{
		Op:        op,
		Iface:     iface.Name,
		Vif:       iface.Vif,
		Index:     ifa.Index,
		Family:    family,
		Addr:      local,
		PrefixLen: ifa.PrefixLen,
	}

	if iface.Flags&unix.IFF_BROADCAST != 0 {
		if brd, ok := attrs.Addr(unix.IFA_BROADCAST, family); ok {
			rec.Broadcast = brd
		}
	}
	if iface.Flags&unix.IFF_POINTOPOINT != 0 && addr != local {
		rec.Peer = addr
	}

	return rec, nil
}

// DecodeRoute turns RTM_NEWROUTE, RTM_DELROUTE and RTM_GETROUTE replies into
// a forwarding table entry. A zero family accepts either family. Routes
// outside the configured table, cloned cache entries and blackholes with no
// interface to hang them from come back as ErrIgnored.
func DecodeRoute(m netlink.Message, family types.Family, ctx DecodeContext) (types.RouteEntry, error) {
	var op types.Op
	switch m.Header.Type {
	case unix.RTM_NEWROUTE, unix.RTM_GETROUTE:
		op = types.Added
	case unix.RTM_DELROUTE:
		op = types.Deleted
	default:
		return types.RouteEntry{}, fmt.Errorf("expected a route message, got %s", TypeName(m.Header.Type))
	}

	rtm, err := parseRtMsg(m.Data)
	if err != nil {
		return types.RouteEntry{}, err
	}

	fam := types.Family(rtm.Family)
	if fam.Bits() == 0 || (family != 0 && fam != family) {
		return types.RouteEntry{}, fmt.Errorf("%w: got %s, want %s", ErrFamilyMismatch, fam, family)
	}
	if int(rtm.DstLen) > fam.Bits() {
		return types.RouteEntry{}, fmt.Errorf("%w: destination length %d for %s", ErrMalformedMessage, rtm.DstLen, fam)
	}

	if rtm.Flags&unix.RTM_F_CLONED != 0 {
		return types.RouteEntry{}, fmt.Errorf("%w: cloned route", ErrIgnored)
	}

	attrs := ScanAttrs(m.Data[SizeofRtMsg:], RTA_MAX)
	logDiags(m, attrs)

	table := uint32(rtm.Table)
	if t, ok := attrs.Uint32(unix.RTA_TABLE); ok {
		table = t
	}
	if ctx.FilterTable && table != ctx.TableID {
		return types.RouteEntry{}, fmt.Errorf("%w: table %d, want %d", ErrIgnored, table, ctx.TableID)
	}

	entry := types.RouteEntry{
		Op:       op,
		Family:   fam,
		Metric:   types.UnknownMetric,
		Protocol: rtm.Protocol,
		Table:    table,
		Xorp:     rtm.Protocol == RTPROT_XORP,
	}

	dst, ok := attrs.Addr(unix.RTA_DST, fam)
	if !ok {
		dst = unspecified(fam)
	}
	entry.Dst = netip.PrefixFrom(dst, int(rtm.DstLen)).Masked()

	if gw, ok := attrs.Addr(unix.RTA_GATEWAY, fam); ok {
		entry.NextHop = gw
	}
	if idx, ok := attrs.Uint32(unix.RTA_OIF); ok {
		entry.Index = idx
	} else if mp, ok := attrs.Bytes(unix.RTA_MULTIPATH); ok {
		idx, gw, err := firstHop(mp, fam)
		if err != nil {
			slog.Debug("skipping malformed RTA_MULTIPATH", "dst", entry.Dst, "err", err)
		} else {
			entry.Index = idx
			if !entry.NextHop.IsValid() {
				entry.NextHop = gw
			}
		}
	}
	if prio, ok := attrs.Uint32(unix.RTA_PRIORITY); ok {
		entry.Metric = prio
	}

	switch rtm.Type {
	case unix.RTN_UNICAST:
		return resolveOutput(entry, ctx)

	case unix.RTN_BLACKHOLE, unix.RTN_PROHIBIT:
		if ctx.Tree == nil {
			return types.RouteEntry{}, fmt.Errorf("%w: %s with no interface tree", ErrIgnored, RouteTypeName(rtm.Type))
		}
		iface, ok := ctx.Tree.SoftDiscardIface()
		if !ok {
			return types.RouteEntry{}, fmt.Errorf("%w: %s to %s with no soft discard interface", ErrIgnored, RouteTypeName(rtm.Type), entry.Dst)
		}
		entry.Discard = true
		entry.Iface, entry.Vif, entry.Index = iface.Name, iface.Vif, iface.Index
		return entry, nil

	case unix.RTN_UNREACHABLE:
		if ctx.Tree == nil {
			return types.RouteEntry{}, fmt.Errorf("%w: %s with no interface tree", ErrIgnored, RouteTypeName(rtm.Type))
		}
		iface, ok := ctx.Tree.SoftUnreachableIface()
		if !ok {
			return types.RouteEntry{}, fmt.Errorf("%w: %s to %s with no soft unreachable interface", ErrIgnored, RouteTypeName(rtm.Type), entry.Dst)
		}
		entry.Unreachable = true
		entry.Iface, entry.Vif, entry.Index = iface.Name, iface.Vif, iface.Index
		return entry, nil
	}

	return types.RouteEntry{}, fmt.Errorf("%w: %s", ErrUnsupportedRouteType, RouteTypeName(rtm.Type))
}

// resolveOutput fills in the names of the output interface. The kernel may
// legitimately report a route deletion after the interface it pointed to is
// gone, so that case keeps the empty names.
func resolveOutput(entry types.RouteEntry, ctx DecodeContext) (types.RouteEntry, error) {
	if entry.Index == 0 {
		return entry, nil
	}

	if ctx.Tree != nil {
		if iface, ok := ctx.Tree.IfaceByIndex(entry.Index); ok {
			entry.Iface, entry.Vif = iface.Name, iface.Vif
			return entry, nil
		}
	}

	if entry.Op == types.Deleted {
		slog.Debug("route deleted over an interface we no longer track", "dst", entry.Dst, "index", entry.Index)
		return entry, nil
	}

	var name string
	if ctx.Platform != nil {
		n, err := ctx.Platform.IndexToName(entry.Index)
		if err != nil {
			return types.RouteEntry{}, fmt.Errorf("%w: route to %s over unnamed interface %d: %w", ErrIgnored, entry.Dst, entry.Index, err)
		}
		name = n
	}
	if ctx.Local == nil || !ctx.Local.HasIface(name) {
		return types.RouteEntry{}, fmt.Errorf("%w: route to %s over unconfigured interface %q", ErrIgnored, entry.Dst, name)
	}

	return types.RouteEntry{}, inconsistent("route to %s over configured interface %s (%d) missing from the tree",
		entry.Dst, name, entry.Index)
}

// firstHop returns the output interface and gateway of the first struct
// rtnexthop in an RTA_MULTIPATH payload.
func firstHop(b []byte, family types.Family) (uint32, netip.Addr, error) {
	if len(b) < SizeofRtNexthop {
		return 0, netip.Addr{}, fmt.Errorf("%w: rtnexthop short read (%d)", ErrMalformedMessage, len(b))
	}

	l := int(nlenc.Uint16(b[0:2]))
	if l < SizeofRtNexthop || l > len(b) {
		return 0, netip.Addr{}, fmt.Errorf("%w: rtnexthop length %d with %d bytes left", ErrMalformedMessage, l, len(b))
	}

	idx := nlenc.Uint32(b[4:8])
	attrs := ScanAttrs(b[SizeofRtNexthop:l], RTA_MAX)
	gw, _ := attrs.Addr(unix.RTA_GATEWAY, family)

	return idx, gw, attrs.Err()
}

func unspecified(family types.Family) netip.Addr {
	if family == types.IPv6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

// inconsistent builds an ErrInconsistent. Debug builds panic instead so the
// condition can't go unnoticed.
func inconsistent(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
	if debugBuild {
		panic(err)
	}
	slog.Error("kernel state doesn't match the interface tree", "err", err)
	return err
}

// IsIgnored tells whether err only means the message was of no interest.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrIgnored)
}
