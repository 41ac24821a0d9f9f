//go:build linux

package nlsock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

type sysConn struct {
	fd int
}

// Dial opens a non-blocking NETLINK_ROUTE socket.
func Dial() (RawConn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &sysConn{fd: fd}, nil
}

func (c *sysConn) Fd() int {
	return c.fd
}

func (c *sysConn) Bind(groups uint32) error {
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: groups}
	return os.NewSyscallError("bind", unix.Bind(c.fd, sa))
}

func (c *sysConn) LocalPID() (uint32, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return 0, os.NewSyscallError("getsockname", err)
	}

	nsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		return 0, fmt.Errorf("getsockname returned a %T", sa)
	}
	return nsa.Pid, nil
}

func (c *sysConn) SetReceiveBuffer(n int) (int, error) {
	// SO_RCVBUFFORCE ignores rmem_max but needs CAP_NET_ADMIN.
	if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, n); err != nil {
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n); err != nil {
			return 0, os.NewSyscallError("setsockopt", err)
		}
	}

	// The kernel doubles the value for bookkeeping overhead.
	granted, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return granted / 2, nil
}

func (c *sysConn) SendTo(b []byte, pid, groups uint32) error {
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: pid, Groups: groups}
	for {
		err := unix.Sendto(c.fd, b, 0, sa)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return os.NewSyscallError("sendto", err)
	}
}

func (c *sysConn) Peek(b []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(c.fd, b, unix.MSG_PEEK|unix.MSG_TRUNC)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("recvfrom", err)
		}
		return n, nil
	}
}

func (c *sysConn) Recv(b []byte) (int, uint32, error) {
	for {
		n, from, err := unix.Recvfrom(c.fd, b, 0)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, 0, ErrWouldBlock
		case err != nil:
			return 0, 0, os.NewSyscallError("recvfrom", err)
		}

		var pid uint32
		if nsa, ok := from.(*unix.SockaddrNetlink); ok {
			pid = nsa.Pid
		}
		return n, pid, nil
	}
}

func (c *sysConn) AttachFilter(prog []bpf.RawInstruction) error {
	if len(prog) == 0 {
		return errors.New("empty filter program")
	}

	filter := make([]unix.SockFilter, 0, len(prog))
	for _, ins := range prog {
		filter = append(filter, unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K})
	}

	fprog := &unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	return os.NewSyscallError("setsockopt", unix.SetsockoptSockFprog(c.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog))
}

func (c *sysConn) DetachFilter() error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0))
}

func (c *sysConn) Close() error {
	return os.NewSyscallError("close", unix.Close(c.fd))
}
