package types

import (
	"net/netip"
	"testing"
)

func TestFamily(t *testing.T) {
	f, ok := ParseFamily("ipv6")
	if !ok || f != IPv6 {
		t.Fatalf("got %v, %t; want %v, true", f, ok, IPv6)
	}
	if IPv4.Bits() != 32 || IPv6.Bits() != 128 || Family(0).Bits() != 0 {
		t.Errorf("wrong address lengths")
	}
	if Family(99).String() != "family(99)" {
		t.Errorf("got %q for an unknown family", Family(99).String())
	}
}

func TestAddrPrefix(t *testing.T) {
	r := AddrRecord{Addr: netip.MustParseAddr("10.1.2.3"), PrefixLen: 24}
	if got, want := r.Prefix(), netip.MustParsePrefix("10.1.2.0/24"); got != want {
		t.Errorf("got %v; want %v", got, want)
	}

	r.PrefixLen = 33
	if r.Prefix().IsValid() {
		t.Errorf("expected an invalid prefix for /33")
	}
}

func TestEventOp(t *testing.T) {
	e := Event{Kind: RouteKind, Route: &RouteEntry{Op: Deleted}}
	if e.Op() != Deleted {
		t.Errorf("got %v; want %v", e.Op(), Deleted)
	}
	if (Event{}).String() != "empty event" {
		t.Errorf("unexpected string for an empty event")
	}
}
