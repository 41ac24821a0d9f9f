package types

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/sys/unix"
)

// UnknownMetric is reported for routes the kernel handed us without an
// RTA_PRIORITY attribute.
const UnknownMetric uint32 = 0xffff

type Family int

// Op tells the consumer what to do with a decoded record.
type Op int

// Kind identifies the record carried by an Event.
type Kind int

const (
	IPv4 Family = unix.AF_INET
	IPv6 Family = unix.AF_INET6
)

const (
	Added Op = iota
	Changed
	Deleted
)

const (
	NoKind Kind = iota
	IfaceKind
	AddrKind
	RouteKind
)

// TODO: Find a way to make this nicer. Maybe init() functions is the
// TODO: way to go?
var (
	familyMap = map[string]Family{
		"IPV4": IPv4,
		"IPV6": IPv6,
	}

	ylimafMap = map[Family]string{
		IPv4: "ipv4",
		IPv6: "ipv6",
	}

	opMap = map[Op]string{
		Added:   "added",
		Changed: "changed",
		Deleted: "deleted",
	}

	kindMap = map[Kind]string{
		IfaceKind: "iface",
		AddrKind:  "addr",
		RouteKind: "route",
	}
)

func (f Family) String() string {
	s, ok := ylimafMap[f]
	if !ok {
		return fmt.Sprintf("family(%d)", int(f))
	}
	return s
}

func ParseFamily(fam string) (Family, bool) {
	f, ok := familyMap[strings.ToUpper(fam)]
	return f, ok
}

// Bits returns the address length in bits for the family, or 0 when the
// family is not an IP family.
func (f Family) Bits() int {
	switch f {
	case IPv4:
		return 32
	case IPv6:
		return 128
	}
	return 0
}

func (o Op) String() string {
	return opMap[o]
}

func (k Kind) String() string {
	return kindMap[k]
}

// IfaceRecord is a decoded RTM_NEWLINK/RTM_DELLINK. On Linux every interface
// carries exactly one vif named after it.
type IfaceRecord struct {
	Op        Op               `json:"op" structs:"op"`
	Name      string           `json:"name" structs:"name"`
	Vif       string           `json:"vif" structs:"vif"`
	Index     uint32           `json:"index" structs:"index"`
	Flags     uint32           `json:"flags" structs:"flags"`
	Enabled   bool             `json:"enabled" structs:"enabled"`
	NoCarrier bool             `json:"noCarrier" structs:"noCarrier"`
	MAC       net.HardwareAddr `json:"mac,omitempty" structs:"mac,omitempty"`
	MTU       uint32           `json:"mtu" structs:"mtu"`
	LinkType  uint16           `json:"linkType" structs:"linkType"`
}

func (r IfaceRecord) Broadcast() bool    { return r.Flags&unix.IFF_BROADCAST != 0 }
func (r IfaceRecord) Loopback() bool     { return r.Flags&unix.IFF_LOOPBACK != 0 }
func (r IfaceRecord) PointToPoint() bool { return r.Flags&unix.IFF_POINTOPOINT != 0 }
func (r IfaceRecord) Multicast() bool    { return r.Flags&unix.IFF_MULTICAST != 0 }

func (r IfaceRecord) String() string {
	return fmt.Sprintf("iface %s %s idx=%d flags=%#x up=%t carrier=%t mtu=%d mac=%s",
		r.Op, r.Name, r.Index, r.Flags, r.Enabled, !r.NoCarrier, r.MTU, r.MAC)
}

// AddrRecord is a decoded RTM_NEWADDR/RTM_DELADDR.
type AddrRecord struct {
	Op        Op         `json:"op" structs:"op"`
	Iface     string     `json:"iface" structs:"iface"`
	Vif       string     `json:"vif" structs:"vif"`
	Index     uint32     `json:"index" structs:"index"`
	Family    Family     `json:"family" structs:"family"`
	Addr      netip.Addr `json:"addr" structs:"addr"`
	PrefixLen uint8      `json:"prefixLen" structs:"prefixLen"`
	Broadcast netip.Addr `json:"broadcast,omitempty" structs:"broadcast,omitempty"`
	Peer      netip.Addr `json:"peer,omitempty" structs:"peer,omitempty"`
}

// Prefix returns the subnet the address lives in.
func (r AddrRecord) Prefix() netip.Prefix {
	p, err := r.Addr.Prefix(int(r.PrefixLen))
	if err != nil {
		return netip.Prefix{}
	}
	return p
}

func (r AddrRecord) String() string {
	s := fmt.Sprintf("addr %s %s/%d on %s(%d)", r.Op, r.Addr, r.PrefixLen, r.Iface, r.Index)
	if r.Broadcast.IsValid() {
		s += " brd " + r.Broadcast.String()
	}
	if r.Peer.IsValid() {
		s += " peer " + r.Peer.String()
	}
	return s
}

// RouteEntry is a decoded forwarding table entry.
type RouteEntry struct {
	Op          Op           `json:"op" structs:"op"`
	Family      Family       `json:"family" structs:"family"`
	Dst         netip.Prefix `json:"dst" structs:"dst"`
	NextHop     netip.Addr   `json:"nextHop,omitempty" structs:"nextHop,omitempty"`
	Iface       string       `json:"iface" structs:"iface"`
	Vif         string       `json:"vif" structs:"vif"`
	Index       uint32       `json:"index" structs:"index"`
	Metric      uint32       `json:"metric" structs:"metric"`
	Protocol    uint8        `json:"protocol" structs:"protocol"`
	Table       uint32       `json:"table" structs:"table"`
	Xorp        bool         `json:"xorp" structs:"xorp"`
	Discard     bool         `json:"discard,omitempty" structs:"discard,omitempty"`
	Unreachable bool         `json:"unreachable,omitempty" structs:"unreachable,omitempty"`
}

func (r RouteEntry) String() string {
	return fmt.Sprintf("route %s %s via %s dev %s(%d) metric %d table %d proto %d xorp=%t",
		r.Op, r.Dst, r.NextHop, r.Iface, r.Index, r.Metric, r.Table, r.Protocol, r.Xorp)
}

// Event wraps exactly one decoded record on its way to the backends.
type Event struct {
	Kind  Kind
	Iface *IfaceRecord
	Addr  *AddrRecord
	Route *RouteEntry
}

func (e Event) String() string {
	switch e.Kind {
	case IfaceKind:
		return e.Iface.String()
	case AddrKind:
		return e.Addr.String()
	case RouteKind:
		return e.Route.String()
	}
	return "empty event"
}

func (e Event) Op() Op {
	switch e.Kind {
	case IfaceKind:
		return e.Iface.Op
	case AddrKind:
		return e.Addr.Op
	case RouteKind:
		return e.Route.Op
	}
	return Changed
}

// Backend consumes the decoded kernel state.
type Backend interface {
	Run(<-chan struct{}, <-chan Event)
	Cleanup() error
	String() string
}

// Plugin exposes the engine to the outside world.
type Plugin interface {
	Init() error
	Run(<-chan struct{})
	Cleanup() error
	String() string
}
