package nlsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync/atomic"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink"
)

var (
	ErrStarted           = errors.New("socket already started")
	ErrNotStarted        = errors.New("socket not started")
	ErrAlreadySubscribed = errors.New("observer already subscribed")
)

// Loop is the event loop a Socket registers its read callback with.
type Loop interface {
	AddReader(fd int, cb func()) error
	RemoveReader(fd int) error
}

// Stats is a snapshot of a socket's counters.
type Stats struct {
	Datagrams      uint64
	Messages       uint64
	Bytes          uint64
	Sends          uint64
	SendErrors     uint64
	RecvErrors     uint64
	Discarded      uint64
	FilterAttached bool
}

type counters struct {
	datagrams  atomic.Uint64
	messages   atomic.Uint64
	bytes      atomic.Uint64
	sends      atomic.Uint64
	sendErrors atomic.Uint64
	recvErrors atomic.Uint64
	discarded  atomic.Uint64
	filter     atomic.Bool
}

const minReadBuffer = 8192

// Socket owns one NETLINK_ROUTE socket. It hands out sequence numbers,
// reassembles multi-part replies and fans every complete buffer out to its
// observers. It isn't safe for concurrent use: everything but Stats is
// meant to run on the event loop.
type Socket struct {
	config Config
	logger *slog.Logger

	loop Loop
	dial Dialer
	conn RawConn

	instance uint16
	counter  uint16
	pid      uint32

	filterWarned bool

	rbuf    []byte
	pending []byte

	observers []*Subscription

	stats counters
}

// New prepares a socket. A nil loop is fine for one-shot use where every
// read is driven by a Reader. A nil registry means DefaultRegistry.
func New(loop Loop, registry *Registry, config *Config) *Socket {
	if config == nil {
		config = &DefaultConfig
	}
	if registry == nil {
		registry = DefaultRegistry
	}

	return &Socket{
		config:   *config,
		logger:   types.NewLogger("nlsock", config.Log),
		loop:     loop,
		dial:     Dial,
		instance: registry.Next(),
		rbuf:     make([]byte, minReadBuffer),
	}
}

func (s *Socket) String() string {
	return fmt.Sprintf("netlink socket %d (pid %d)", s.instance, s.pid)
}

// SetDialer replaces the function opening the underlying socket.
func (s *Socket) SetDialer(d Dialer) error {
	if s.conn != nil {
		return ErrStarted
	}
	s.dial = d
	return nil
}

// SetGroups changes the multicast groups joined on Start.
func (s *Socket) SetGroups(groups uint32) error {
	if s.conn != nil {
		return ErrStarted
	}
	s.config.Groups = groups
	return nil
}

// SetMultipartRead makes reassembly wait for NLMSG_DONE even when the
// kernel doesn't flag its replies as multi-part.
func (s *Socket) SetMultipartRead(on bool) {
	s.config.MultipartRead = on
}

func (s *Socket) Instance() uint16 {
	return s.instance
}

// PID is the port id the kernel assigned on bind.
func (s *Socket) PID() uint32 {
	return s.pid
}

// Seqno is the sequence number the next request must carry.
func (s *Socket) Seqno() uint32 {
	return uint32(s.instance)<<16 | uint32(s.counter)
}

// Config returns the current configuration.
func (s *Socket) Config() Config {
	return s.config
}

// Start opens, sizes and binds the socket and hooks it into the loop. On
// failure the socket is left closed.
func (s *Socket) Start() error {
	if s.conn != nil {
		return ErrStarted
	}

	conn, err := s.dial()
	if err != nil {
		return fmt.Errorf("couldn't open the netlink socket: %w", err)
	}

	if s.config.ReceiveBufferSize > 0 {
		granted, err := conn.SetReceiveBuffer(s.config.ReceiveBufferSize)
		switch {
		case err != nil:
			s.logger.Warn("couldn't enlarge the receive buffer", "want", s.config.ReceiveBufferSize, "err", err)
		case granted < s.config.ReceiveBufferSize:
			s.logger.Warn("receive buffer smaller than requested", "want", s.config.ReceiveBufferSize, "got", granted)
		}
	}

	if err := conn.Bind(s.config.Groups); err != nil {
		return errors.Join(fmt.Errorf("couldn't bind the netlink socket: %w", err), conn.Close())
	}

	pid, err := conn.LocalPID()
	if err != nil {
		return errors.Join(fmt.Errorf("couldn't read back the netlink socket address: %w", err), conn.Close())
	}

	s.conn = conn
	s.pid = pid
	s.pending = nil

	s.attachFilter()

	if s.loop != nil {
		if err := s.loop.AddReader(conn.Fd(), s.readable); err != nil {
			s.conn = nil
			return errors.Join(fmt.Errorf("couldn't register with the event loop: %w", err), conn.Close())
		}
	}

	s.logger.Debug("started", "instance", s.instance, "pid", pid, "groups", fmt.Sprintf("%#x", s.config.Groups))

	return nil
}

// Stop unhooks and closes the socket. Stopping a stopped socket is a no-op.
func (s *Socket) Stop() error {
	if s.conn == nil {
		return nil
	}

	var errs []error
	if s.loop != nil {
		if err := s.loop.RemoveReader(s.conn.Fd()); err != nil {
			errs = append(errs, fmt.Errorf("couldn't deregister from the event loop: %w", err))
		}
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("couldn't close the netlink socket: %w", err))
	}

	s.conn = nil
	s.pending = nil
	s.stats.filter.Store(false)

	return errors.Join(errs...)
}

// Write sends b to the kernel.
func (s *Socket) Write(b []byte) error {
	return s.SendTo(b, 0, 0)
}

// SendTo sends b to the given port and groups. Every call consumes a
// sequence number, whether it succeeds or not.
func (s *Socket) SendTo(b []byte, pid, groups uint32) error {
	defer func() { s.counter++ }()

	if s.conn == nil {
		return ErrNotStarted
	}

	s.stats.sends.Add(1)
	if err := s.conn.SendTo(b, pid, groups); err != nil {
		s.stats.sendErrors.Add(1)
		return fmt.Errorf("couldn't send %d bytes: %w", len(b), err)
	}

	return nil
}

// Send stamps m with the next sequence number and our pid and writes it.
// It returns the sequence number replies will carry.
func (s *Socket) Send(m netlink.Message) (uint32, error) {
	seq := s.Seqno()

	m.Header.Sequence = seq
	m.Header.PID = s.pid
	m.Header.Flags |= netlink.Request

	b, err := nl.MarshalMessage(m)
	if err != nil {
		return 0, fmt.Errorf("couldn't marshal %s: %w", nl.TypeName(m.Header.Type), err)
	}

	if s.logger.Enabled(context.Background(), types.LevelTrace) {
		s.logger.Log(context.Background(), types.LevelTrace, "sending", "msg", nl.Summary(m))
	}

	return seq, s.Write(b)
}

// ForceRecv reads datagrams until a complete reply has been assembled and
// hands it to every observer. With onlyKernel set datagrams sent by other
// processes are dropped. ErrWouldBlock means the socket ran dry first; the
// partial reply is kept for the next call.
func (s *Socket) ForceRecv(onlyKernel bool) error {
	if s.conn == nil {
		return ErrNotStarted
	}

	for {
		n, err := s.conn.Peek(s.rbuf)
		if err != nil {
			return s.recvError(err)
		}
		if n > len(s.rbuf) {
			s.rbuf = make([]byte, n)
		}

		n, from, err := s.conn.Recv(s.rbuf)
		if err != nil {
			return s.recvError(err)
		}

		s.stats.datagrams.Add(1)
		s.stats.bytes.Add(uint64(n))

		if onlyKernel && from != 0 {
			s.stats.discarded.Add(1)
			s.logger.Debug("dropping a datagram not sent by the kernel", "from", from)
			continue
		}

		data := s.rbuf[:n]
		msgs, err := nl.Messages(data)
		if err != nil {
			s.stats.recvErrors.Add(1)
			s.pending = nil
			return fmt.Errorf("dropping malformed datagram from %d: %w", from, err)
		}
		s.stats.messages.Add(uint64(len(msgs)))

		end := false
		for _, m := range msgs {
			if m.Header.Flags&netlink.Multi == 0 && !s.config.MultipartRead {
				end = true
			}
			// An error ends the exchange too: the kernel sends no
			// NLMSG_DONE after rejecting a dump.
			if m.Header.Type == netlink.Done || m.Header.Type == netlink.Error {
				end = true
			}
		}

		s.pending = append(s.pending, data...)
		if !end {
			continue
		}

		buf := s.pending
		s.pending = nil
		s.dispatch(buf)

		return nil
	}
}

// resetPending drops a partially assembled reply.
func (s *Socket) resetPending() {
	if len(s.pending) > 0 {
		s.logger.Debug("dropping a partial reply", "bytes", len(s.pending))
	}
	s.pending = nil
}

func (s *Socket) recvError(err error) error {
	if errors.Is(err, ErrWouldBlock) {
		return ErrWouldBlock
	}
	s.stats.recvErrors.Add(1)
	return fmt.Errorf("couldn't receive from the netlink socket: %w", err)
}

// readable drains the socket whenever the loop reports it readable.
func (s *Socket) readable() {
	for s.conn != nil {
		err := s.ForceRecv(true)
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		if err != nil {
			s.logger.Warn("error reading kernel notifications", "err", err)
			return
		}
	}
}

// Stats can be called from any goroutine.
func (s *Socket) Stats() Stats {
	return Stats{
		Datagrams:      s.stats.datagrams.Load(),
		Messages:       s.stats.messages.Load(),
		Bytes:          s.stats.bytes.Load(),
		Sends:          s.stats.sends.Load(),
		SendErrors:     s.stats.sendErrors.Load(),
		RecvErrors:     s.stats.recvErrors.Load(),
		Discarded:      s.stats.discarded.Load(),
		FilterAttached: s.stats.filter.Load(),
	}
}

// NotifyTableIDChange moves the route filter to table. A zero table
// removes it.
func (s *Socket) NotifyTableIDChange(table uint32) {
	if table == s.config.TableID {
		return
	}

	s.logger.Info("routing table changed", "from", s.config.TableID, "to", table)
	s.config.TableID = table

	if s.conn == nil {
		return
	}

	if s.stats.filter.Load() {
		if err := s.conn.DetachFilter(); err != nil {
			s.logger.Warn("couldn't detach the table filter", "err", err)
		}
		s.stats.filter.Store(false)
	}

	s.filterWarned = false
	s.attachFilter()
}

func (s *Socket) attachFilter() {
	if s.config.TableID == 0 {
		return
	}

	prog, err := TableFilter(s.config.TableID)
	if err == nil {
		err = s.conn.AttachFilter(prog)
	}
	if err != nil {
		if !s.filterWarned {
			s.logger.Warn("couldn't attach the table filter, filtering in user space only", "table", s.config.TableID, "err", err)
			s.filterWarned = true
		}
		return
	}

	s.stats.filter.Store(true)
	s.logger.Debug("attached the table filter", "table", s.config.TableID)
}

// Observer is anything interested in the buffers a Socket receives. The
// buffer is only valid during the call.
type Observer interface {
	Deliver(buf []byte)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(buf []byte)

func (f ObserverFunc) Deliver(buf []byte) {
	f(buf)
}

// Subscription ties an Observer to a Socket until closed.
type Subscription struct {
	s *Socket
	o Observer
}

// Subscribe attaches o. Observers are called in subscription order.
func (s *Socket) Subscribe(o Observer) (*Subscription, error) {
	if o == nil {
		return nil, errors.New("nil observer")
	}
	if reflect.TypeOf(o).Comparable() {
		for _, sub := range s.observers {
			if reflect.TypeOf(sub.o) == reflect.TypeOf(o) && sub.o == o {
				return nil, ErrAlreadySubscribed
			}
		}
	}

	sub := &Subscription{s: s, o: o}
	s.observers = append(s.observers, sub)

	return sub, nil
}

// Close detaches the observer. It's safe to call more than once and from
// within Deliver.
func (sub *Subscription) Close() error {
	if sub.s == nil {
		return nil
	}
	sub.s.observers = slices.DeleteFunc(slices.Clone(sub.s.observers), func(o *Subscription) bool {
		return o == sub
	})
	sub.s = nil
	return nil
}

func (s *Socket) dispatch(buf []byte) {
	// Observers may come and go while we're delivering.
	for _, sub := range slices.Clone(s.observers) {
		if sub.s == nil {
			continue
		}
		sub.o.Deliver(buf)
	}
}
