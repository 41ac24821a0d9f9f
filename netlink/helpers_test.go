package netlink

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

func init() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time.
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Remove the directory from the source's filename.
			if a.Key == slog.SourceKey {
				source := a.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

var ipOpts = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
}

func ifinfomsg(typ uint16, index, flags uint32) []byte {
	b := make([]byte, SizeofIfInfomsg)
	nlenc.PutUint16(b[2:4], typ)
	nlenc.PutUint32(b[4:8], index)
	nlenc.PutUint32(b[8:12], flags)
	return b
}

func ifaddrmsg(family, prefixLen uint8, index uint32) []byte {
	b := make([]byte, SizeofIfAddrmsg)
	b[0] = family
	b[1] = prefixLen
	nlenc.PutUint32(b[4:8], index)
	return b
}

func rtmsg(r rtMsg) []byte {
	b := make([]byte, SizeofRtMsg)
	b[0], b[1], b[2], b[3] = r.Family, r.DstLen, r.SrcLen, r.Tos
	b[4], b[5], b[6], b[7] = r.Table, r.Protocol, r.Scope, r.Type
	nlenc.PutUint32(b[8:12], r.Flags)
	return b
}

func attrs(t *testing.T, fn func(ae *netlink.AttributeEncoder)) []byte {
	t.Helper()

	ae := netlink.NewAttributeEncoder()
	fn(ae)
	b, err := ae.Encode()
	if err != nil {
		t.Fatalf("couldn't encode attributes: %v", err)
	}
	return b
}

func message(typ netlink.HeaderType, seq uint32, payload ...[]byte) netlink.Message {
	var data []byte
	for _, p := range payload {
		data = append(data, p...)
	}
	return netlink.Message{
		Header: netlink.Header{
			Length:   uint32(SizeofNlMsghdr + len(data)),
			Type:     typ,
			Sequence: seq,
		},
		Data: data,
	}
}

func marshal(t *testing.T, msgs ...netlink.Message) []byte {
	t.Helper()

	var b []byte
	for _, m := range msgs {
		mb, err := MarshalMessage(m)
		if err != nil {
			t.Fatalf("couldn't marshal %s: %v", TypeName(m.Header.Type), err)
		}
		b = append(b, mb...)
	}
	return b
}

func errorMessage(seq uint32, code int32) netlink.Message {
	b := make([]byte, SizeofNlMsgerr)
	nlenc.PutInt32(b[0:4], code)
	return message(netlink.Error, seq, b)
}

type fakeTree struct {
	ifaces  []IfaceInfo
	discard *IfaceInfo
	unreach *IfaceInfo
}

func (f *fakeTree) IfaceByIndex(index uint32) (IfaceInfo, bool) {
	for _, i := range f.ifaces {
		if i.Index == index {
			return i, true
		}
	}
	return IfaceInfo{}, false
}

func (f *fakeTree) IfaceByName(name string) (IfaceInfo, bool) {
	for _, i := range f.ifaces {
		if i.Name == name {
			return i, true
		}
	}
	return IfaceInfo{}, false
}

func (f *fakeTree) SoftDiscardIface() (IfaceInfo, bool) {
	if f.discard == nil {
		return IfaceInfo{}, false
	}
	return *f.discard, true
}

func (f *fakeTree) SoftUnreachableIface() (IfaceInfo, bool) {
	if f.unreach == nil {
		return IfaceInfo{}, false
	}
	return *f.unreach, true
}

type fakeLocal map[string]bool

func (f fakeLocal) HasIface(name string) bool { return f[name] }

type fakePlatform struct {
	names   map[uint32]string
	mtus    map[string]uint32
	carrier map[string]bool
}

func (f *fakePlatform) IndexToName(index uint32) (string, error) {
	n, ok := f.names[index]
	if !ok {
		return "", fmt.Errorf("no interface with index %d", index)
	}
	return n, nil
}

func (f *fakePlatform) MTU(name string) (uint32, error) {
	m, ok := f.mtus[name]
	if !ok {
		return 0, fmt.Errorf("no mtu for %s", name)
	}
	return m, nil
}

func (f *fakePlatform) Carrier(name string) (bool, error) {
	c, ok := f.carrier[name]
	if !ok {
		return false, fmt.Errorf("no carrier for %s", name)
	}
	return c, nil
}

func putHop(b []byte, l uint16, index uint32) {
	nlenc.PutUint16(b[0:2], l)
	nlenc.PutUint32(b[4:8], index)
}
