// Package iftree keeps the engine's view of the kernel: interfaces, their
// addresses and the forwarding table. It's what the netlink decoders consult
// and what the decoded records are merged back into.
package iftree

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
)

var ErrUnknownIface = errors.New("unknown interface")

type Iface struct {
	types.IfaceRecord

	Addrs map[netip.Addr]types.AddrRecord
}

// The kernel keeps routes to the same destination apart by priority.
type routeKey struct {
	table  uint32
	dst    netip.Prefix
	metric uint32
}

// We could consider using sync.Map, but the decoders need consistent
// lookups by both index and name.
type Tree struct {
	sync.RWMutex

	config Config
	local  map[string]bool

	ifaces map[uint32]*Iface
	names  map[string]uint32
	routes map[routeKey]types.RouteEntry
}

func New(config *Config) *Tree {
	if config == nil {
		config = &DefaultConfig
	}

	t := &Tree{
		ifaces: map[uint32]*Iface{},
		names:  map[string]uint32{},
		routes: map[routeKey]types.RouteEntry{},
	}
	t.setConfig(*config)

	return t
}

func (t *Tree) setConfig(c Config) {
	t.config = c
	t.local = make(map[string]bool, len(c.Interfaces))
	for _, name := range c.Interfaces {
		t.local[name] = true
	}
}

// Reconfigure swaps the set of locally configured and soft interfaces.
// Known state is kept.
func (t *Tree) Reconfigure(c Config) {
	t.Lock()
	t.setConfig(c)
	t.Unlock()
}

func info(i *Iface) nl.IfaceInfo {
	return nl.IfaceInfo{Name: i.Name, Vif: i.Vif, Index: i.Index, Flags: i.Flags}
}

func (t *Tree) IfaceByIndex(index uint32) (nl.IfaceInfo, bool) {
	t.RLock()
	defer t.RUnlock()

	i, ok := t.ifaces[index]
	if !ok {
		return nl.IfaceInfo{}, false
	}
	return info(i), true
}

func (t *Tree) IfaceByName(name string) (nl.IfaceInfo, bool) {
	t.RLock()
	defer t.RUnlock()

	index, ok := t.names[name]
	if !ok {
		return nl.IfaceInfo{}, false
	}
	return info(t.ifaces[index]), true
}

func (t *Tree) firstOf(names []string) (nl.IfaceInfo, bool) {
	for _, name := range names {
		if index, ok := t.names[name]; ok {
			return info(t.ifaces[index]), true
		}
	}
	return nl.IfaceInfo{}, false
}

// SoftDiscardIface returns the first configured discard interface the
// kernel knows about.
func (t *Tree) SoftDiscardIface() (nl.IfaceInfo, bool) {
	t.RLock()
	defer t.RUnlock()
	return t.firstOf(t.config.SoftDiscard)
}

func (t *Tree) SoftUnreachableIface() (nl.IfaceInfo, bool) {
	t.RLock()
	defer t.RUnlock()
	return t.firstOf(t.config.SoftUnreachable)
}

// HasIface reports whether name is one of the interfaces we manage.
func (t *Tree) HasIface(name string) bool {
	t.RLock()
	defer t.RUnlock()

	return t.config.AllInterfaces || t.local[name]
}

// Apply merges one decoded record.
func (t *Tree) Apply(ev types.Event) error {
	t.Lock()
	defer t.Unlock()

	switch ev.Kind {
	case types.IfaceKind:
		t.applyIface(*ev.Iface)
	case types.AddrKind:
		return t.applyAddr(*ev.Addr)
	case types.RouteKind:
		t.applyRoute(*ev.Route)
	default:
		return fmt.Errorf("can't apply an event of kind %d", ev.Kind)
	}

	return nil
}

func (t *Tree) applyIface(r types.IfaceRecord) {
	if r.Op == types.Deleted {
		index, ok := t.names[r.Name]
		if !ok {
			index = r.Index
		}
		t.removeIface(index)
		return
	}

	i, ok := t.ifaces[r.Index]
	if !ok {
		i = &Iface{Addrs: map[netip.Addr]types.AddrRecord{}}
		t.ifaces[r.Index] = i
	} else if i.Name != r.Name {
		// Renamed.
		delete(t.names, i.Name)
	}

	i.IfaceRecord = r
	t.names[r.Name] = r.Index
}

func (t *Tree) removeIface(index uint32) {
	i, ok := t.ifaces[index]
	if !ok {
		return
	}
	delete(t.ifaces, index)
	delete(t.names, i.Name)

	// The kernel flushes routes over a vanished device without telling us.
	for k, r := range t.routes {
		if r.Index == index {
			delete(t.routes, k)
		}
	}
}

func (t *Tree) applyAddr(r types.AddrRecord) error {
	i, ok := t.ifaces[r.Index]
	if !ok {
		if r.Op == types.Deleted {
			return nil
		}
		return fmt.Errorf("%w: address %s on index %d", ErrUnknownIface, r.Addr, r.Index)
	}

	if r.Op == types.Deleted {
		delete(i.Addrs, r.Addr)
		return nil
	}
	i.Addrs[r.Addr] = r

	return nil
}

func (t *Tree) applyRoute(r types.RouteEntry) {
	k := routeKey{table: r.Table, dst: r.Dst.Masked(), metric: r.Metric}
	if r.Op == types.Deleted {
		delete(t.routes, k)
		return
	}
	t.routes[k] = r
}

// Ifaces returns a copy of every known interface ordered by index.
func (t *Tree) Ifaces() []types.IfaceRecord {
	t.RLock()
	out := make([]types.IfaceRecord, 0, len(t.ifaces))
	for _, i := range t.ifaces {
		out = append(out, i.IfaceRecord)
	}
	t.RUnlock()

	slices.SortFunc(out, func(a, b types.IfaceRecord) int { return cmp.Compare(a.Index, b.Index) })
	return out
}

// Addrs returns the addresses on the named interface, or on every
// interface when name is empty.
func (t *Tree) Addrs(name string) []types.AddrRecord {
	t.RLock()
	out := []types.AddrRecord{}
	for _, i := range t.ifaces {
		if name != "" && i.Name != name {
			continue
		}
		for _, a := range i.Addrs {
			out = append(out, a)
		}
	}
	t.RUnlock()

	slices.SortFunc(out, func(a, b types.AddrRecord) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return a.Addr.Compare(b.Addr)
	})
	return out
}

// Routes returns the forwarding table ordered by table and destination.
func (t *Tree) Routes() []types.RouteEntry {
	t.RLock()
	out := make([]types.RouteEntry, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	t.RUnlock()

	slices.SortFunc(out, func(a, b types.RouteEntry) int {
		if c := cmp.Compare(a.Table, b.Table); c != 0 {
			return c
		}
		if c := a.Dst.Addr().Compare(b.Dst.Addr()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Dst.Bits(), b.Dst.Bits()); c != 0 {
			return c
		}
		return cmp.Compare(a.Metric, b.Metric)
	})
	return out
}

// Lookup returns the preferred route for exactly dst in table: the one with
// the lowest metric.
func (t *Tree) Lookup(table uint32, dst netip.Prefix) (types.RouteEntry, bool) {
	dst = dst.Masked()

	t.RLock()
	defer t.RUnlock()

	var (
		best  types.RouteEntry
		found bool
	)
	for k, r := range t.routes {
		if k.table != table || k.dst != dst {
			continue
		}
		if !found || k.metric < best.Metric {
			best, found = r, true
		}
	}
	return best, found
}

// Counts returns the number of interfaces, addresses and routes held.
func (t *Tree) Counts() (ifaces, addrs, routes int) {
	t.RLock()
	defer t.RUnlock()

	for _, i := range t.ifaces {
		addrs += len(i.Addrs)
	}
	return len(t.ifaces), addrs, len(t.routes)
}
