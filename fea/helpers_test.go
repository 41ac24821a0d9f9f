package fea

import (
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	"github.com/greearb/xorp.ct-sub013/internal/nlsock/nltest"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
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

const (
	monPID = 1001
	reqPID = 1002
)

type fakePlatform struct {
	names map[uint32]string
}

func (p fakePlatform) IndexToName(index uint32) (string, error) {
	name, ok := p.names[index]
	if !ok {
		return "", errors.New("no such device")
	}
	return name, nil
}

func (fakePlatform) MTU(string) (uint32, error)    { return 0, errors.New("no sysfs here") }
func (fakePlatform) Carrier(string) (bool, error) { return false, errors.New("no sysfs here") }

func link(index uint32, name string, flags uint32) netlink.Message {
	lm := rtnetlink.LinkMessage{
		Family: unix.AF_UNSPEC,
		Type:   unix.ARPHRD_ETHER,
		Index:  index,
		Flags:  flags,
		Attributes: &rtnetlink.LinkAttributes{
			Name:    name,
			MTU:     1500,
			Address: net.HardwareAddr{0x02, 0, 0, 0, 0, byte(index)},
		},
	}
	data, err := lm.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return netlink.Message{Header: netlink.Header{Type: unix.RTM_NEWLINK}, Data: data}
}

func addr(t netlink.HeaderType, index uint32, prefix string) netlink.Message {
	p := netip.MustParsePrefix(prefix)

	ifa := make([]byte, nl.SizeofIfAddrmsg)
	ifa[0] = unix.AF_INET
	ifa[1] = uint8(p.Bits())
	nlenc.PutUint32(ifa[4:8], index)

	ae := netlink.NewAttributeEncoder()
	ae.Bytes(unix.IFA_ADDRESS, p.Addr().AsSlice())
	ae.Bytes(unix.IFA_LOCAL, p.Addr().AsSlice())
	attrs, err := ae.Encode()
	if err != nil {
		panic(err)
	}

	return netlink.Message{Header: netlink.Header{Type: t}, Data: append(ifa, attrs...)}
}

func route(t netlink.HeaderType, dst string, oif uint32, table uint8) netlink.Message {
	p := netip.MustParsePrefix(dst)

	rm := rtnetlink.RouteMessage{
		Family:    unix.AF_INET,
		DstLength: uint8(p.Bits()),
		Table:     table,
		Protocol:  unix.RTPROT_BOOT,
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Type:      unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Dst:      p.Addr().AsSlice(),
			OutIface: oif,
		},
	}
	data, err := rm.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return netlink.Message{Header: netlink.Header{Type: t}, Data: data}
}

func multi(msgs ...netlink.Message) []netlink.Message {
	out := make([]netlink.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		m.Header.Flags |= netlink.Multi
		out = append(out, m)
	}
	return append(out, netlink.Message{
		Header: netlink.Header{Type: netlink.Done, Flags: netlink.Multi},
		Data:   make([]byte, 4),
	})
}

func ack(req netlink.Message, errno unix.Errno) []netlink.Message {
	data := make([]byte, nl.SizeofNlMsgerr)
	nlenc.PutUint32(data[0:4], uint32(-int32(errno)))
	return nltest.Reply(req, netlink.Message{Header: netlink.Header{Type: netlink.Error}, Data: data})
}

// kernel is a scripted NETLINK_ROUTE peer.
type kernel struct {
	links  []netlink.Message
	addrs  []netlink.Message
	routes []netlink.Message

	// singleLink is the errno a single-link RTM_GETLINK gets; 0 answers it.
	singleLink unix.Errno
	routeErrno unix.Errno

	// unflagged sends every link of a dump in its own datagram without
	// NLM_F_MULTI, as some kernels do.
	unflagged bool

	requests []netlink.Message
}

func (k *kernel) respond(req netlink.Message) [][]netlink.Message {
	k.requests = append(k.requests, req)

	switch req.Header.Type {
	case unix.RTM_GETLINK:
		if req.Header.Flags&netlink.Dump == netlink.Dump && k.unflagged {
			out := [][]netlink.Message{}
			for _, l := range k.links {
				out = append(out, nltest.Reply(req, l))
			}
			end := netlink.Message{Header: netlink.Header{Type: netlink.Done}, Data: make([]byte, 4)}
			return append(out, nltest.Reply(req, end))
		}
		if req.Header.Flags&netlink.Dump == netlink.Dump {
			return [][]netlink.Message{nltest.Reply(req, multi(k.links...)...)}
		}
		if k.singleLink != 0 {
			return [][]netlink.Message{ack(req, k.singleLink)}
		}
		index := nlenc.Uint32(req.Data[4:8])
		for _, l := range k.links {
			if nlenc.Uint32(l.Data[4:8]) == index {
				return [][]netlink.Message{nltest.Reply(req, l)}
			}
		}
		return [][]netlink.Message{ack(req, unix.ENODEV)}

	case unix.RTM_GETADDR:
		return [][]netlink.Message{nltest.Reply(req, multi(k.addrs...)...)}

	case unix.RTM_GETROUTE:
		return [][]netlink.Message{nltest.Reply(req, multi(k.routes...)...)}

	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
		return [][]netlink.Message{ack(req, k.routeErrno)}
	}

	return [][]netlink.Message{ack(req, unix.EOPNOTSUPP)}
}

type harness struct {
	engine *Engine
	tree   *iftree.Tree
	loop   *nltest.Loop
	mon    *nltest.Conn
	req    *nltest.Conn
	kernel *kernel
}

func testConfig() *Config {
	c := DefaultConfig
	c.Families = []string{"ipv4"}
	c.Netlink.Retries = 1
	c.Netlink.BackoffMaxMs = 1
	return &c
}

func newHarness(t *testing.T, k *kernel, treeConf *iftree.Config, conf *Config) *harness {
	t.Helper()

	if conf == nil {
		conf = testConfig()
	}

	h := &harness{
		tree:   iftree.New(treeConf),
		loop:   nltest.NewLoop(),
		mon:    nltest.NewConn(monPID),
		req:    nltest.NewConn(reqPID),
		kernel: k,
	}
	h.req.Respond = k.respond

	platform := fakePlatform{names: map[uint32]string{}}
	h.engine = NewEngine(h.loop, h.tree, platform, conf)

	conns := []*nltest.Conn{h.mon, h.req}
	err := h.engine.SetDialer(func() (nlsock.RawConn, error) {
		if len(conns) == 0 {
			return nil, errors.New("no more sockets")
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	})
	if err != nil {
		t.Fatalf("couldn't set the dialer: %v", err)
	}

	return h
}
