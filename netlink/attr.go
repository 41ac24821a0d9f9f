package netlink

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink/nlenc"
)

// Diagnostic records an attribute the scanner refused to index.
type Diagnostic struct {
	Offset int
	Type   uint16
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("offset %d, type %d: %s", d.Offset, d.Type, d.Reason)
}

// Attrs is an owned table of the attributes found in one message, indexed
// by attribute type. Values are copied out of the scanned buffer, so a table
// stays valid after the receive buffer gets reused.
type Attrs struct {
	vals  [][]byte
	Diags []Diagnostic
}

// ScanAttrs walks the attribute region b in a single pass. Types above max
// are skipped silently. A declared length shorter than the attribute header
// or longer than what's left of b stops the scan: nothing past that point
// can be trusted to be aligned. Duplicated types keep the last occurrence,
// just like the kernel's own parser.
func ScanAttrs(b []byte, max uint16) *Attrs {
	a := &Attrs{vals: make([][]byte, int(max)+1)}

	off := 0
	for len(b)-off >= sizeofAttrHeader {
		l := int(nlenc.Uint16(b[off : off+2]))
		t := nlenc.Uint16(b[off+2:off+4]) & nlaTypeMask

		if l < sizeofAttrHeader {
			a.diag(off, t, fmt.Sprintf("declared length %d is shorter than the attribute header", l))
			break
		}
		if l > len(b)-off {
			a.diag(off, t, fmt.Sprintf("declared length %d exceeds the %d bytes left", l, len(b)-off))
			break
		}

		if t <= max {
			v := make([]byte, l-sizeofAttrHeader)
			copy(v, b[off+sizeofAttrHeader:off+l])
			a.vals[t] = v
		}

		off += Align(l)
	}

	if rem := len(b) - off; rem > 0 && rem < sizeofAttrHeader {
		a.diag(off, 0, fmt.Sprintf("%d trailing bytes", rem))
	}

	return a
}

func (a *Attrs) diag(off int, t uint16, reason string) {
	a.Diags = append(a.Diags, Diagnostic{Offset: off, Type: t, Reason: reason})
}

// Err folds the diagnostics into a single error, or nil if the scan was
// clean.
func (a *Attrs) Err() error {
	if len(a.Diags) == 0 {
		return nil
	}
	errs := make([]error, 0, len(a.Diags))
	for _, d := range a.Diags {
		errs = append(errs, errors.New(d.String()))
	}
	return fmt.Errorf("malformed attributes: %w", errors.Join(errs...))
}

func (a *Attrs) Has(t uint16) bool {
	return int(t) < len(a.vals) && a.vals[t] != nil
}

func (a *Attrs) Bytes(t uint16) ([]byte, bool) {
	if !a.Has(t) {
		return nil, false
	}
	return a.vals[t], true
}

func (a *Attrs) Uint8(t uint16) (uint8, bool) {
	v, ok := a.Bytes(t)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

func (a *Attrs) Uint32(t uint16) (uint32, bool) {
	v, ok := a.Bytes(t)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return nlenc.Uint32(v[:4]), true
}

// String decodes a NUL-terminated string attribute.
func (a *Attrs) String(t uint16) (string, bool) {
	v, ok := a.Bytes(t)
	if !ok {
		return "", false
	}
	s, _, _ := strings.Cut(string(v), "\x00")
	return s, true
}

// Addr decodes an IP address attribute for the given family. IPv4-mapped
// IPv6 values are accepted for IPv4.
func (a *Attrs) Addr(t uint16, family types.Family) (netip.Addr, bool) {
	v, ok := a.Bytes(t)
	if !ok {
		return netip.Addr{}, false
	}
	return decodeAddr(v, family)
}

func decodeAddr(v []byte, family types.Family) (netip.Addr, bool) {
	ip, ok := netip.AddrFromSlice(v)
	if !ok {
		return netip.Addr{}, false
	}
	switch family {
	case types.IPv4:
		ip = ip.Unmap()
		if !ip.Is4() {
			return netip.Addr{}, false
		}
	case types.IPv6:
		if len(v) != 16 {
			return netip.Addr{}, false
		}
	default:
		return netip.Addr{}, false
	}
	return ip, true
}

// Align rounds l up to the netlink alignment.
func Align(l int) int {
	return (l + unixAlignTo - 1) &^ (unixAlignTo - 1)
}

const unixAlignTo = 4
