package iftree

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
	"golang.org/x/sys/unix"
)

var (
	_ nl.IfTree      = (*Tree)(nil)
	_ nl.LocalConfig = (*Tree)(nil)
)

func iface(op types.Op, name string, index uint32) types.Event {
	return types.Event{Kind: types.IfaceKind, Iface: &types.IfaceRecord{
		Op: op, Name: name, Vif: name, Index: index, Flags: unix.IFF_UP | unix.IFF_BROADCAST, Enabled: true,
	}}
}

func addr(op types.Op, index uint32, a string, plen uint8) types.Event {
	return types.Event{Kind: types.AddrKind, Addr: &types.AddrRecord{
		Op: op, Index: index, Family: types.IPv4, Addr: netip.MustParseAddr(a), PrefixLen: plen,
	}}
}

func route(op types.Op, dst string, index uint32) types.Event {
	return types.Event{Kind: types.RouteKind, Route: &types.RouteEntry{
		Op: op, Family: types.IPv4, Dst: netip.MustParsePrefix(dst), Index: index,
		Table: unix.RT_TABLE_MAIN, Metric: types.UnknownMetric,
	}}
}

func mustApply(t *testing.T, tree *Tree, evs ...types.Event) {
	t.Helper()
	for _, ev := range evs {
		if err := tree.Apply(ev); err != nil {
			t.Fatalf("couldn't apply %s: %v", ev, err)
		}
	}
}

func TestIfaces(t *testing.T) {
	tree := New(nil)

	mustApply(t, tree,
		iface(types.Added, "eth1", 3),
		iface(types.Added, "eth0", 2),
		iface(types.Changed, "wan0", 3),
	)

	if _, ok := tree.IfaceByName("eth1"); ok {
		t.Errorf("the old name survived a rename")
	}
	got, ok := tree.IfaceByName("wan0")
	if !ok {
		t.Fatalf("wan0 not found")
	}
	want := nl.IfaceInfo{Name: "wan0", Vif: "wan0", Index: 3, Flags: unix.IFF_UP | unix.IFF_BROADCAST}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	names := []string{}
	for _, r := range tree.Ifaces() {
		names = append(names, r.Name)
	}
	if diff := cmp.Diff([]string{"eth0", "wan0"}, names); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	mustApply(t, tree, iface(types.Deleted, "eth0", 0))
	if _, ok := tree.IfaceByIndex(2); ok {
		t.Errorf("eth0 survived its deletion")
	}
}

func TestAddrs(t *testing.T) {
	tree := New(nil)

	if err := tree.Apply(addr(types.Added, 2, "10.0.0.1", 24)); !errors.Is(err, ErrUnknownIface) {
		t.Errorf("got %v; want ErrUnknownIface", err)
	}

	mustApply(t, tree,
		iface(types.Added, "eth0", 2),
		addr(types.Added, 2, "10.0.0.1", 24),
		addr(types.Added, 2, "10.0.1.1", 24),
		addr(types.Deleted, 2, "10.0.1.1", 24),
		addr(types.Deleted, 2, "10.0.1.1", 24),
		addr(types.Deleted, 7, "10.0.9.1", 24),
	)

	got := tree.Addrs("eth0")
	if len(got) != 1 || got[0].Addr != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("unexpected addresses %v", got)
	}
	if len(tree.Addrs("eth9")) != 0 {
		t.Errorf("addresses on an unknown interface")
	}
}

func TestRoutes(t *testing.T) {
	tree := New(nil)

	mustApply(t, tree,
		iface(types.Added, "eth0", 2),
		iface(types.Added, "eth1", 3),
		route(types.Added, "10.1.0.0/16", 2),
		route(types.Added, "0.0.0.0/0", 3),
		route(types.Added, "10.2.0.0/16", 3),
		route(types.Deleted, "10.2.0.0/16", 3),
	)

	var dsts []string
	for _, r := range tree.Routes() {
		dsts = append(dsts, r.Dst.String())
	}
	if diff := cmp.Diff([]string{"0.0.0.0/0", "10.1.0.0/16"}, dsts); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, ok := tree.Lookup(unix.RT_TABLE_MAIN, netip.MustParsePrefix("10.1.2.3/16")); !ok {
		t.Errorf("lookup didn't mask the destination")
	}

	// Routes over a vanished device go with it.
	mustApply(t, tree, iface(types.Deleted, "eth1", 3))
	if ifaces, addrs, routes := tree.Counts(); ifaces != 1 || addrs != 0 || routes != 1 {
		t.Errorf("got %d ifaces, %d addrs and %d routes", ifaces, addrs, routes)
	}
}

func TestRouteMetrics(t *testing.T) {
	tree := New(nil)

	withMetric := func(op types.Op, index, metric uint32) types.Event {
		ev := route(op, "10.1.0.0/16", index)
		ev.Route.Metric = metric
		return ev
	}

	mustApply(t, tree,
		iface(types.Added, "eth0", 2),
		iface(types.Added, "eth1", 3),
		withMetric(types.Added, 3, 200),
		withMetric(types.Added, 2, 100),
	)

	if _, _, routes := tree.Counts(); routes != 2 {
		t.Fatalf("got %d routes; want both metrics kept", routes)
	}
	if r, ok := tree.Lookup(unix.RT_TABLE_MAIN, netip.MustParsePrefix("10.1.0.0/16")); !ok || r.Metric != 100 {
		t.Errorf("got %+v; want the metric 100 route", r)
	}

	mustApply(t, tree, withMetric(types.Deleted, 2, 100))
	r, ok := tree.Lookup(unix.RT_TABLE_MAIN, netip.MustParsePrefix("10.1.0.0/16"))
	if !ok || r.Metric != 200 || r.Index != 3 {
		t.Errorf("got %+v; want the metric 200 route to survive", r)
	}
}

func TestLocalConfig(t *testing.T) {
	var c Config
	if err := yaml.Unmarshal([]byte("interfaces: [eth0]\nallInterfaces: false\nsoftDiscard: [dis1, dis0]\n"), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tree := New(&c)
	if !tree.HasIface("eth0") || tree.HasIface("eth1") {
		t.Errorf("wrong set of local interfaces")
	}

	if _, ok := tree.SoftDiscardIface(); ok {
		t.Errorf("found a discard interface the kernel doesn't have")
	}

	mustApply(t, tree, iface(types.Added, "dis0", 9))
	if i, ok := tree.SoftDiscardIface(); !ok || i.Name != "dis0" {
		t.Errorf("got %v, %t; want dis0", i, ok)
	}
	if _, ok := tree.SoftUnreachableIface(); ok {
		t.Errorf("no unreachable interface is configured")
	}

	tree.Reconfigure(DefaultConfig)
	if !tree.HasIface("eth1") {
		t.Errorf("the default config should accept every interface")
	}
}
