package fea

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jsimonetti/rtnetlink"
	"github.com/prometheus/procfs/sysfs"
	"golang.org/x/sys/unix"
)

var ErrUnknownAttribute = errors.New("attribute not exposed by sysfs")

// Platform answers what netlink messages leave open from sysfs and
// single-link RTM_GETLINK queries.
type Platform struct {
	fs sysfs.FS

	mu   sync.Mutex
	conn *rtnetlink.Conn
}

func NewPlatform(mountPoint string) (*Platform, error) {
	fs, err := sysfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialise the sysfs filesystem: %w", err)
	}
	return &Platform{fs: fs}, nil
}

func (p *Platform) IndexToName(index uint32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := rtnetlink.Dial(nil)
		if err != nil {
			return "", fmt.Errorf("couldn't open a netlink socket: %w", err)
		}
		p.conn = conn
	}

	msg, err := p.conn.Link.Get(index)
	if errors.Is(err, unix.EINVAL) {
		// Kernels without single-link queries: dump them all.
		iface, err := net.InterfaceByIndex(int(index))
		if err != nil {
			return "", fmt.Errorf("couldn't resolve index %d: %w", index, err)
		}
		return iface.Name, nil
	}
	if err != nil {
		return "", fmt.Errorf("couldn't resolve index %d: %w", index, err)
	}
	if msg.Attributes == nil || msg.Attributes.Name == "" {
		return "", fmt.Errorf("no name for index %d", index)
	}
	return msg.Attributes.Name, nil
}

// Close releases the netlink socket, if one was opened.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Platform) iface(name string) (*sysfs.NetClassIface, error) {
	iface, err := p.fs.NetClassByIface(name)
	if err != nil {
		return nil, fmt.Errorf("couldn't read /sys/class/net/%s: %w", name, err)
	}
	return iface, nil
}

func (p *Platform) MTU(name string) (uint32, error) {
	iface, err := p.iface(name)
	if err != nil {
		return 0, err
	}
	if iface.MTU == nil {
		return 0, fmt.Errorf("%w: mtu of %s", ErrUnknownAttribute, name)
	}
	return uint32(*iface.MTU), nil
}

// Carrier reads the carrier file, which the kernel refuses to answer for
// administratively down devices.
func (p *Platform) Carrier(name string) (bool, error) {
	iface, err := p.iface(name)
	if err != nil {
		return false, err
	}
	if iface.Carrier == nil {
		return false, fmt.Errorf("%w: carrier of %s", ErrUnknownAttribute, name)
	}
	return *iface.Carrier != 0, nil
}
