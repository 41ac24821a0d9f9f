package netlink

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

var ErrMalformedMessage = errors.New("malformed netlink message")

// ParseHeader decodes the nlmsghdr at the start of b.
func ParseHeader(b []byte) (netlink.Header, error) {
	if len(b) < SizeofNlMsghdr {
		return netlink.Header{}, fmt.Errorf("%w: %d bytes can't hold a header", ErrMalformedMessage, len(b))
	}
	return netlink.Header{
		Length:   nlenc.Uint32(b[0:4]),
		Type:     netlink.HeaderType(nlenc.Uint16(b[4:6])),
		Flags:    netlink.HeaderFlags(nlenc.Uint16(b[6:8])),
		Sequence: nlenc.Uint32(b[8:12]),
		PID:      nlenc.Uint32(b[12:16]),
	}, nil
}

// Messages splits a buffer into the messages it carries. The returned Data
// slices alias b. When a header declares a length that's too short or runs
// past the buffer the messages parsed so far are returned together with an
// error wrapping ErrMalformedMessage.
func Messages(b []byte) ([]netlink.Message, error) {
	msgs := []netlink.Message{}

	off := 0
	for len(b)-off >= SizeofNlMsghdr {
		h, _ := ParseHeader(b[off:])
		l := int(h.Length)
		if l < SizeofNlMsghdr || l > len(b)-off {
			return msgs, fmt.Errorf("%w: length %d at offset %d with %d bytes left",
				ErrMalformedMessage, l, off, len(b)-off)
		}

		msgs = append(msgs, netlink.Message{Header: h, Data: b[off+SizeofNlMsghdr : off+l]})
		off += Align(l)
	}

	return msgs, nil
}

// MarshalMessage serialises m, padding the payload to the netlink alignment
// and filling in the header length.
func MarshalMessage(m netlink.Message) ([]byte, error) {
	data := make([]byte, Align(len(m.Data)))
	copy(data, m.Data)

	m.Data = data
	m.Header.Length = uint32(SizeofNlMsghdr + len(data))

	return m.MarshalBinary()
}

// ErrorCode extracts the (negative errno) code of an NLMSG_ERROR message.
func ErrorCode(m netlink.Message) (int32, error) {
	if m.Header.Type != netlink.Error {
		return 0, fmt.Errorf("%s isn't an error message", TypeName(m.Header.Type))
	}
	if len(m.Data) < 4 {
		return 0, fmt.Errorf("%w: NLMSG_ERROR payload of %d bytes", ErrMalformedMessage, len(m.Data))
	}
	return int32(nlenc.Uint32(m.Data[0:4])), nil
}

// IsEndOfDump tells whether m terminates a multi-part exchange.
func IsEndOfDump(m netlink.Message) bool {
	return m.Header.Type == netlink.Done
}
