package nlsock

import (
	"testing"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

func routeNotification(t *testing.T, rtmTable uint8, fn func(ae *netlink.AttributeEncoder)) []byte {
	t.Helper()

	rtm := make([]byte, nl.SizeofRtMsg)
	rtm[0] = unix.AF_INET
	rtm[4] = rtmTable
	rtm[7] = unix.RTN_UNICAST

	ae := netlink.NewAttributeEncoder()
	fn(ae)
	attrs, err := ae.Encode()
	if err != nil {
		t.Fatalf("couldn't encode attributes: %v", err)
	}

	b, err := nl.MarshalMessage(netlink.Message{
		Header: netlink.Header{Type: unix.RTM_NEWROUTE},
		Data:   append(rtm, attrs...),
	})
	if err != nil {
		t.Fatalf("couldn't marshal: %v", err)
	}
	return b
}

func TestTableFilter(t *testing.T) {
	link, err := nl.MarshalMessage(netlink.Message{
		Header: netlink.Header{Type: unix.RTM_NEWLINK},
		Data:   make([]byte, nl.SizeofIfInfomsg),
	})
	if err != nil {
		t.Fatalf("couldn't marshal: %v", err)
	}

	mainFirst := routeNotification(t, unix.RT_TABLE_MAIN, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.RTA_TABLE, unix.RT_TABLE_MAIN)
		ae.Bytes(unix.RTA_DST, []byte{10, 0, 0, 0})
	})
	bigTable := routeNotification(t, unix.RT_TABLE_UNSPEC, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.RTA_TABLE, 1000)
	})
	noTableAttr := routeNotification(t, unix.RT_TABLE_MAIN, func(ae *netlink.AttributeEncoder) {
		ae.Bytes(unix.RTA_DST, []byte{10, 0, 0, 0})
	})

	tests := []struct {
		name   string
		table  uint32
		pkt    []byte
		accept bool
	}{
		{"links always pass", 1000, link, true},
		{"matching RTA_TABLE", unix.RT_TABLE_MAIN, mainFirst, true},
		{"other RTA_TABLE", 1000, mainFirst, false},
		{"table beyond rtm_table", 1000, bigTable, true},
		{"big table mismatch", 1001, bigTable, false},
		{"matching rtm_table", unix.RT_TABLE_MAIN, noTableAttr, true},
		{"other rtm_table", 100, noTableAttr, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := TableFilter(tc.table)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			prog, ok := bpf.Disassemble(raw)
			if !ok {
				t.Fatalf("couldn't disassemble the whole program: %v", prog)
			}

			vm, err := bpf.NewVM(prog)
			if err != nil {
				t.Fatalf("invalid program: %v", err)
			}

			n, err := vm.Run(tc.pkt)
			if err != nil {
				t.Fatalf("couldn't run the filter: %v", err)
			}
			if got := n != 0; got != tc.accept {
				t.Errorf("filter for table %d returned %d; want accept=%t", tc.table, n, tc.accept)
			}
		})
	}
}
