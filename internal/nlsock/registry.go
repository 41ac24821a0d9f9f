package nlsock

import "sync/atomic"

// Registry hands out the instance numbers making up the upper half of every
// sequence number, so that replies to different sockets of one process can
// never be confused.
type Registry struct {
	next atomic.Uint32
}

// DefaultRegistry is shared by every socket not given a registry of its own.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{}
}

// Next returns a fresh instance number. It wraps after 2^16 sockets.
func (r *Registry) Next() uint16 {
	return uint16(r.next.Add(1) - 1)
}
