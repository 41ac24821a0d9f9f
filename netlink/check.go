package netlink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// ErrNoAck means an exchange finished without the kernel either accepting or
// rejecting the request.
var ErrNoAck = errors.New("no acknowledgement received")

// KernelError is an NLMSG_ERROR with a non-zero code.
type KernelError struct {
	Errno unix.Errno
	Seq   uint32
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel rejected request %#x: %s", e.Seq, e.Errno.Error())
}

func (e *KernelError) Unwrap() error {
	return e.Errno
}

// CheckRequest classifies the reply to request seq held in buf. An
// NLMSG_ERROR with a zero code or any other recognised message counts as
// success, a non-zero code becomes a *KernelError and an exchange without
// either yields ErrNoAck. Messages belonging to other requests are skipped.
func CheckRequest(buf []byte, seq uint32) error {
	msgs, err := Messages(buf)
	if err != nil {
		return fmt.Errorf("couldn't split the reply to %#x: %w", seq, err)
	}

	for _, m := range msgs {
		if m.Header.Sequence != seq {
			continue
		}

		switch m.Header.Type {
		case netlink.Error:
			code, err := ErrorCode(m)
			if err != nil {
				return err
			}
			if code == 0 {
				return nil
			}
			return &KernelError{Errno: unix.Errno(-code), Seq: seq}

		case netlink.Done:
			return fmt.Errorf("%w for %#x", ErrNoAck, seq)

		case netlink.Noop:
			continue

		default:
			if !IsRouteFamilyMessage(m.Header.Type) {
				slog.Debug("unrecognised message in reply", "type", TypeName(m.Header.Type), "seq", seq)
				continue
			}
			return nil
		}
	}

	return fmt.Errorf("%w for %#x", ErrNoAck, seq)
}
