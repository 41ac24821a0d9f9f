package nlsock

import (
	"encoding/binary"
	"fmt"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/josharian/native"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Offsets into a route notification as the filter sees it: the nlmsghdr,
// then the rtmsg, then the first attribute.
const (
	offType      = 4
	offRtmTable  = nl.SizeofNlMsghdr + 4
	offFirstAttr = nl.SizeofNlMsghdr + nl.SizeofRtMsg
)

const (
	bpfAccept = 0xffffffff
	bpfReject = 0
)

// TableFilter assembles a socket filter letting through every message that
// isn't about a route plus the route messages for table. The kernel puts
// RTA_TABLE first in the route messages it builds, so looking at the first
// attribute is enough. Otherwise rtm_table is checked.
//
// Only the first message of a datagram is looked at, which fits
// notifications but not dump replies: keep it off request sockets.
func TableFilter(table uint32) ([]bpf.RawInstruction, error) {
	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: offType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: loaded16(unix.RTM_NEWROUTE), SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: loaded16(unix.RTM_DELROUTE), SkipTrue: 1},
		bpf.RetConstant{Val: bpfAccept},

		bpf.LoadAbsolute{Off: offFirstAttr + 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: loaded16(unix.RTA_TABLE), SkipFalse: 2},
		bpf.LoadAbsolute{Off: offFirstAttr + 4, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: loaded32(table), SkipTrue: 2, SkipFalse: 3},

		bpf.LoadAbsolute{Off: offRtmTable, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: table, SkipFalse: 1},

		bpf.RetConstant{Val: bpfAccept},
		bpf.RetConstant{Val: bpfReject},
	}

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("couldn't assemble the table filter: %w", err)
	}
	return raw, nil
}

// BPF loads are big endian whereas netlink is host endian: compare against
// what a load of the host representation of v yields.
func loaded16(v uint16) uint32 {
	b := make([]byte, 2)
	native.Endian.PutUint16(b, v)
	return uint32(binary.BigEndian.Uint16(b))
}

func loaded32(v uint32) uint32 {
	b := make([]byte, 4)
	native.Endian.PutUint32(b, v)
	return binary.BigEndian.Uint32(b)
}
