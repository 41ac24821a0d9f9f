package netlink

import (
	"errors"
)

var (
	// ErrIgnored is returned for messages that were understood but that we
	// have no business acting on (e.g. a route in a table we don't track).
	// It is not a failure.
	ErrIgnored = errors.New("message ignored")

	ErrUnsupportedRouteType = errors.New("unsupported route type")
	ErrFamilyMismatch       = errors.New("address family mismatch")

	// ErrInconsistent flags kernel state our own view can't explain, such
	// as a route being added over an interface we're configured for but
	// can't resolve.
	ErrInconsistent = errors.New("inconsistent kernel state")
)

// IfaceInfo is what the decoders need to know about an interface the
// consumer already tracks.
type IfaceInfo struct {
	Name  string
	Vif   string
	Index uint32
	Flags uint32
}

// IfTree is the read-only view of the consumer's interface tree.
type IfTree interface {
	IfaceByIndex(index uint32) (IfaceInfo, bool)
	IfaceByName(name string) (IfaceInfo, bool)

	// SoftDiscardIface and SoftUnreachableIface return the first
	// configured interface standing in for blackhole and unreachable
	// routes respectively.
	SoftDiscardIface() (IfaceInfo, bool)
	SoftUnreachableIface() (IfaceInfo, bool)
}

// LocalConfig is the snapshot of the interfaces we've been configured to
// manage.
type LocalConfig interface {
	HasIface(name string) bool
}

// Platform answers the questions netlink messages can leave open.
type Platform interface {
	IndexToName(index uint32) (string, error)
	MTU(name string) (uint32, error)
	Carrier(name string) (bool, error)
}

// DecodeContext bundles the collaborators and the table filter handed to
// every decoder.
type DecodeContext struct {
	Tree     IfTree
	Local    LocalConfig
	Platform Platform

	// FilterTable enables discarding routes whose table isn't TableID.
	FilterTable bool
	TableID     uint32
}
