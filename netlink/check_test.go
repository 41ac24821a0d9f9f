package netlink

import (
	"errors"
	"strings"
	"testing"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

func TestCheckRequest(t *testing.T) {
	const seq = 0x00010003

	newlink := message(unix.RTM_NEWLINK, seq, ifinfomsg(unix.ARPHRD_ETHER, 1, 0))

	tests := []struct {
		name  string
		msgs  []netlink.Message
		err   error
		errno unix.Errno
	}{
		{
			name: "ack",
			msgs: []netlink.Message{errorMessage(seq, 0)},
		},
		{
			name:  "einval",
			msgs:  []netlink.Message{errorMessage(seq, -int32(unix.EINVAL))},
			errno: unix.EINVAL,
		},
		{
			name: "reply without an ack",
			msgs: []netlink.Message{newlink},
		},
		{
			name: "done without an ack",
			msgs: []netlink.Message{message(netlink.Done, seq, make([]byte, 4))},
			err:  ErrNoAck,
		},
		{
			name: "nothing",
			err:  ErrNoAck,
		},
		{
			name: "someone else's ack",
			msgs: []netlink.Message{errorMessage(seq+1, 0), message(netlink.Noop, seq)},
			err:  ErrNoAck,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b []byte
			if len(tc.msgs) > 0 {
				b = marshal(t, tc.msgs...)
			}

			err := CheckRequest(b, seq)
			switch {
			case tc.errno != 0:
				var kerr *KernelError
				if !errors.As(err, &kerr) {
					t.Fatalf("got %v; want a *KernelError", err)
				}
				if kerr.Errno != tc.errno || kerr.Seq != seq {
					t.Errorf("got %+v", kerr)
				}
				if !errors.Is(err, tc.errno) {
					t.Errorf("%v doesn't unwrap to %v", err, tc.errno)
				}
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Errorf("got %v; want %v", err, tc.err)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestSummary(t *testing.T) {
	m := routeMessage(t, unix.RTM_NEWROUTE,
		rtMsg{Family: unix.AF_INET, DstLen: 8, Table: unix.RT_TABLE_MAIN, Protocol: RTPROT_XORP, Type: unix.RTN_UNICAST},
		func(ae *netlink.AttributeEncoder) {
			ae.Bytes(unix.RTA_DST, []byte{10, 0, 0, 0})
			ae.Uint32(unix.RTA_OIF, 2)
		})
	m.Header.Sequence = 0x10

	s := Summary(m)
	for _, want := range []string{"RTM_NEWROUTE", "seq=0x10", "ipv4 10.0.0.0/8", "RTN_UNICAST", "table=254", "proto=14", "oif=2"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q doesn't mention %q", s, want)
		}
	}

	if s := Summary(errorMessage(1, -int32(unix.ENODEV))); !strings.Contains(s, "errno=19") {
		t.Errorf("got %q", s)
	}
	if s := Summary(message(unix.RTM_NEWADDR, 1, []byte{1})); !strings.Contains(s, "truncated") {
		t.Errorf("got %q", s)
	}

	lines := strings.Split(SummarizeBuffer(marshal(t, errorMessage(1, 0), message(netlink.Done, 1, make([]byte, 4)))), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "ack") || !strings.HasPrefix(lines[1], "NLMSG_DONE") {
		t.Errorf("got %q", lines)
	}
}
