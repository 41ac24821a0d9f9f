package netlink

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

func TestMessages(t *testing.T) {
	// The 3 byte payload forces padding between the two messages.
	first := message(unix.RTM_NEWLINK, 1, []byte{1, 2, 3})
	second := message(netlink.Done, 1, []byte{0, 0, 0, 0})

	b := marshal(t, first, second)
	if len(b)%4 != 0 {
		t.Fatalf("marshalled buffer of %d bytes isn't aligned", len(b))
	}

	msgs, err := Messages(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := []netlink.HeaderType{}
	for _, m := range msgs {
		got = append(got, m.Header.Type)
	}
	if diff := cmp.Diff([]netlink.HeaderType{unix.RTM_NEWLINK, netlink.Done}, got); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	if !IsEndOfDump(msgs[1]) || IsEndOfDump(msgs[0]) {
		t.Errorf("only the second message ends the dump")
	}
}

func TestMessagesOverrun(t *testing.T) {
	b := marshal(t, message(unix.RTM_NEWADDR, 5, make([]byte, 8)))
	bad := marshal(t, message(unix.RTM_NEWADDR, 6, make([]byte, 8)))
	// Declare far more than is there.
	bad[0] = 0xff
	b = append(b, bad...)

	msgs, err := Messages(b)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("got %v; want ErrMalformedMessage", err)
	}
	if len(msgs) != 1 || msgs[0].Header.Sequence != 5 {
		t.Errorf("expected the message before the overrun, got %+v", msgs)
	}
}

func TestParseHeader(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 15)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("got %v for a short header; want ErrMalformedMessage", err)
	}

	m := message(unix.RTM_GETROUTE, 0x00020007)
	m.Header.Flags = netlink.Request | netlink.Dump
	m.Header.PID = 4242

	h, err := ParseHeader(marshal(t, m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(m.Header, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorCode(t *testing.T) {
	code, err := ErrorCode(errorMessage(1, -int32(unix.EINVAL)))
	if err != nil || code != -int32(unix.EINVAL) {
		t.Errorf("got %d, %v; want %d", code, err, -int32(unix.EINVAL))
	}

	if _, err := ErrorCode(message(unix.RTM_NEWLINK, 1)); err == nil {
		t.Errorf("expected an error for a non error message")
	}
	if _, err := ErrorCode(message(netlink.Error, 1, []byte{0})); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("got %v for a truncated error; want ErrMalformedMessage", err)
	}
}

func TestTypeName(t *testing.T) {
	tests := map[netlink.HeaderType]string{
		unix.RTM_NEWROUTE: "RTM_NEWROUTE",
		netlink.Done:      "NLMSG_DONE",
		netlink.Error:     "NLMSG_ERROR",
		0x7777:            "UNKNOWN_TYPE_30583",
	}
	for typ, want := range tests {
		if got := TypeName(typ); got != want {
			t.Errorf("TypeName(%d) = %q; want %q", typ, got, want)
		}
	}

	if RouteTypeName(unix.RTN_BLACKHOLE) != "RTN_BLACKHOLE" {
		t.Errorf("got %q", RouteTypeName(unix.RTN_BLACKHOLE))
	}
	if IsRouteFamilyMessage(unix.RTM_NEWNEIGH) {
		t.Errorf("neighbour messages aren't decoded")
	}
}
