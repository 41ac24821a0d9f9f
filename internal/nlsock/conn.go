package nlsock

import (
	"errors"

	"golang.org/x/net/bpf"
)

// ErrWouldBlock is returned when the socket has nothing for us right now.
var ErrWouldBlock = errors.New("no data available")

// RawConn is the bare netlink socket. Implementations retry EINTR
// themselves and report EAGAIN as ErrWouldBlock.
type RawConn interface {
	Fd() int
	Bind(groups uint32) error
	LocalPID() (uint32, error)

	// SetReceiveBuffer asks for a receive buffer of n bytes and returns
	// what the kernel actually granted.
	SetReceiveBuffer(n int) (int, error)

	SendTo(b []byte, pid, groups uint32) error

	// Peek returns the full size of the next datagram without consuming
	// it, even if it doesn't fit in b.
	Peek(b []byte) (int, error)

	// Recv consumes the next datagram and returns the pid it came from.
	Recv(b []byte) (int, uint32, error)

	AttachFilter(prog []bpf.RawInstruction) error
	DetachFilter() error

	Close() error
}

// Dialer opens the RawConn a Socket runs on.
type Dialer func() (RawConn, error)
