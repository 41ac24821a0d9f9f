package netlink

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Summary renders a one-line description of m for diagnostics. It never
// fails: payloads it can't make sense of are described as such.
func Summary(m netlink.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s len=%d flags=%#x seq=%#x pid=%d",
		TypeName(m.Header.Type), m.Header.Length, uint16(m.Header.Flags), m.Header.Sequence, m.Header.PID)

	switch m.Header.Type {
	case netlink.Error:
		code, err := ErrorCode(m)
		if err != nil {
			sb.WriteString(" (truncated)")
			break
		}
		if code == 0 {
			sb.WriteString(" ack")
		} else {
			fmt.Fprintf(&sb, " errno=%d (%s)", -code, unix.Errno(-code).Error())
		}

	case unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_GETLINK:
		ifi, err := parseIfInfoMsg(m.Data)
		if err != nil {
			sb.WriteString(" (truncated)")
			break
		}
		attrs := ScanAttrs(m.Data[SizeofIfInfomsg:], IFLA_MAX)
		name, _ := attrs.String(unix.IFLA_IFNAME)
		fmt.Fprintf(&sb, " index=%d name=%q flags=%#x", ifi.Index, name, ifi.Flags)
		if mtu, ok := attrs.Uint32(unix.IFLA_MTU); ok {
			fmt.Fprintf(&sb, " mtu=%d", mtu)
		}

	case unix.RTM_NEWADDR, unix.RTM_DELADDR, unix.RTM_GETADDR:
		ifa, err := parseIfAddrMsg(m.Data)
		if err != nil {
			sb.WriteString(" (truncated)")
			break
		}
		family := types.Family(ifa.Family)
		fmt.Fprintf(&sb, " %s index=%d", family, ifa.Index)
		attrs := ScanAttrs(m.Data[SizeofIfAddrmsg:], IFA_MAX)
		if a, ok := attrs.Addr(unix.IFA_LOCAL, family); ok {
			fmt.Fprintf(&sb, " local=%s", netip.PrefixFrom(a, int(ifa.PrefixLen)))
		}
		if a, ok := attrs.Addr(unix.IFA_ADDRESS, family); ok {
			fmt.Fprintf(&sb, " address=%s", netip.PrefixFrom(a, int(ifa.PrefixLen)))
		}

	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE, unix.RTM_GETROUTE:
		rtm, err := parseRtMsg(m.Data)
		if err != nil {
			sb.WriteString(" (truncated)")
			break
		}
		family := types.Family(rtm.Family)
		attrs := ScanAttrs(m.Data[SizeofRtMsg:], RTA_MAX)
		dst, ok := attrs.Addr(unix.RTA_DST, family)
		if !ok && family.Bits() != 0 {
			dst = unspecified(family)
		}
		table := uint32(rtm.Table)
		if t, ok := attrs.Uint32(unix.RTA_TABLE); ok {
			table = t
		}
		fmt.Fprintf(&sb, " %s %s/%d %s table=%d proto=%d", family, dst, rtm.DstLen, RouteTypeName(rtm.Type), table, rtm.Protocol)
		if gw, ok := attrs.Addr(unix.RTA_GATEWAY, family); ok {
			fmt.Fprintf(&sb, " via %s", gw)
		}
		if oif, ok := attrs.Uint32(unix.RTA_OIF); ok {
			fmt.Fprintf(&sb, " oif=%d", oif)
		}
	}

	return sb.String()
}

// SummarizeBuffer describes every message in b, one per line.
func SummarizeBuffer(b []byte) string {
	msgs, err := Messages(b)

	lines := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		lines = append(lines, Summary(m))
	}
	if err != nil {
		lines = append(lines, err.Error())
	}

	return strings.Join(lines, "\n")
}
