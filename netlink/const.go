package netlink

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// All of these constants' names make the linter complain, but we inherited
// these names from the kernel's rtnetlink.h, so we will keep them.
const (
	// RTPROT_XORP tags the routes we install so that we recognise them
	// when they're read back. The kernel reserves the value for us.
	RTPROT_XORP uint8 = unix.RTPROT_XORP

	// Fixed payload sizes following the nlmsghdr.
	SizeofIfInfomsg  = unix.SizeofIfInfomsg
	SizeofIfAddrmsg  = unix.SizeofIfAddrmsg
	SizeofRtMsg      = unix.SizeofRtMsg
	SizeofNlMsgerr   = unix.SizeofNlMsgerr
	SizeofNlMsghdr   = unix.SizeofNlMsghdr
	SizeofRtNexthop  = unix.SizeofRtNexthop
	sizeofAttrHeader = unix.SizeofRtAttr

	// Highest attribute type we keep per message kind. Types beyond these
	// are skipped by the scanner; newer kernels keep adding to the tail
	// of these enums and we don't read any of those.
	IFLA_MAX uint16 = 63
	IFA_MAX  uint16 = 15
	RTA_MAX  uint16 = 31

	// Attribute type bits that aren't part of the type itself.
	nlaTypeMask = ^uint16(unix.NLA_F_NESTED | unix.NLA_F_NET_BYTEORDER)
)

var (
	typeNames = map[netlink.HeaderType]string{
		netlink.Noop:        "NLMSG_NOOP",
		netlink.Error:       "NLMSG_ERROR",
		netlink.Done:        "NLMSG_DONE",
		netlink.Overrun:     "NLMSG_OVERRUN",
		unix.RTM_NEWLINK:    "RTM_NEWLINK",
		unix.RTM_DELLINK:    "RTM_DELLINK",
		unix.RTM_GETLINK:    "RTM_GETLINK",
		unix.RTM_SETLINK:    "RTM_SETLINK",
		unix.RTM_NEWADDR:    "RTM_NEWADDR",
		unix.RTM_DELADDR:    "RTM_DELADDR",
		unix.RTM_GETADDR:    "RTM_GETADDR",
		unix.RTM_NEWROUTE:   "RTM_NEWROUTE",
		unix.RTM_DELROUTE:   "RTM_DELROUTE",
		unix.RTM_GETROUTE:   "RTM_GETROUTE",
		unix.RTM_NEWNEIGH:   "RTM_NEWNEIGH",
		unix.RTM_DELNEIGH:   "RTM_DELNEIGH",
		unix.RTM_GETNEIGH:   "RTM_GETNEIGH",
		unix.RTM_NEWRULE:    "RTM_NEWRULE",
		unix.RTM_DELRULE:    "RTM_DELRULE",
		unix.RTM_GETRULE:    "RTM_GETRULE",
		unix.RTM_NEWQDISC:   "RTM_NEWQDISC",
		unix.RTM_DELQDISC:   "RTM_DELQDISC",
		unix.RTM_GETQDISC:   "RTM_GETQDISC",
		unix.RTM_NEWNSID:    "RTM_NEWNSID",
		unix.RTM_DELNSID:    "RTM_DELNSID",
		unix.RTM_GETNSID:    "RTM_GETNSID",
		unix.RTM_NEWNEXTHOP: "RTM_NEWNEXTHOP",
		unix.RTM_DELNEXTHOP: "RTM_DELNEXTHOP",
	}

	routeTypeNames = map[uint8]string{
		unix.RTN_UNSPEC:      "RTN_UNSPEC",
		unix.RTN_UNICAST:     "RTN_UNICAST",
		unix.RTN_LOCAL:       "RTN_LOCAL",
		unix.RTN_BROADCAST:   "RTN_BROADCAST",
		unix.RTN_ANYCAST:     "RTN_ANYCAST",
		unix.RTN_MULTICAST:   "RTN_MULTICAST",
		unix.RTN_BLACKHOLE:   "RTN_BLACKHOLE",
		unix.RTN_UNREACHABLE: "RTN_UNREACHABLE",
		unix.RTN_PROHIBIT:    "RTN_PROHIBIT",
		unix.RTN_THROW:       "RTN_THROW",
		unix.RTN_NAT:         "RTN_NAT",
		unix.RTN_XRESOLVE:    "RTN_XRESOLVE",
	}
)

// TypeName classifies a message type for logging. Unknown types are
// rendered numerically rather than rejected.
func TypeName(t netlink.HeaderType) string {
	s, ok := typeNames[t]
	if !ok {
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint16(t))
	}
	return s
}

func RouteTypeName(t uint8) string {
	s, ok := routeTypeNames[t]
	if !ok {
		return fmt.Sprintf("UNKNOWN_RTN_%d", t)
	}
	return s
}

// IsRouteFamilyMessage reports whether t belongs to the link, address or
// route families the codec decodes.
func IsRouteFamilyMessage(t netlink.HeaderType) bool {
	switch t {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK,
		unix.RTM_NEWADDR, unix.RTM_DELADDR,
		unix.RTM_NEWROUTE, unix.RTM_DELROUTE, unix.RTM_GETROUTE:
		return true
	}
	return false
}
