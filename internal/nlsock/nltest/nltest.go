// Package nltest provides in-memory stand-ins for the kernel side of a
// netlink socket and for the event loop.
package nltest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/net/bpf"
)

// Datagram is one queued read.
type Datagram struct {
	From uint32
	Data []byte
}

// Responder produces the datagrams the kernel answers req with.
type Responder func(req netlink.Message) [][]netlink.Message

// Conn is a fake nlsock.RawConn.
type Conn struct {
	mu sync.Mutex

	FD        int
	PID       uint32
	Granted   int
	BindErr   error
	PIDErr    error
	SendErr   error
	FilterErr error
	Respond   Responder

	Groups   uint32
	Filter   []bpf.RawInstruction
	Sent     [][]byte
	Closed   bool
	Detached int

	// Filtered counts the datagrams the attached filter rejected.
	Filtered int

	queue []Datagram
}

func NewConn(pid uint32) *Conn {
	return &Conn{FD: 42, PID: pid, Granted: 1 << 30}
}

// Dialer returns an nlsock.Dialer always handing out c.
func (c *Conn) Dialer() nlsock.Dialer {
	return func() (nlsock.RawConn, error) {
		return c, nil
	}
}

// Queue makes data the next datagram read after what's already pending.
// Like the kernel, an attached filter gets to see it first.
func (c *Conn) Queue(from uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepts(data) {
		c.Filtered++
		return
	}
	c.queue = append(c.queue, Datagram{From: from, Data: data})
}

func (c *Conn) accepts(data []byte) bool {
	if c.Filter == nil {
		return true
	}

	prog, ok := bpf.Disassemble(c.Filter)
	if !ok {
		return true
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return true
	}

	verdict, err := vm.Run(data)
	return err == nil && verdict != 0
}

// QueueMessages queues msgs as a single datagram.
func (c *Conn) QueueMessages(from uint32, msgs ...netlink.Message) error {
	b, err := Marshal(msgs...)
	if err != nil {
		return err
	}
	c.Queue(from, b)
	return nil
}

// Pending is the number of unread datagrams.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Conn) Fd() int {
	return c.FD
}

func (c *Conn) Bind(groups uint32) error {
	if c.BindErr != nil {
		return c.BindErr
	}
	c.Groups = groups
	return nil
}

func (c *Conn) LocalPID() (uint32, error) {
	return c.PID, c.PIDErr
}

func (c *Conn) SetReceiveBuffer(n int) (int, error) {
	return min(n, c.Granted), nil
}

func (c *Conn) SendTo(b []byte, pid, groups uint32) error {
	if c.SendErr != nil {
		return c.SendErr
	}

	c.mu.Lock()
	c.Sent = append(c.Sent, append([]byte(nil), b...))
	c.mu.Unlock()

	if c.Respond == nil {
		return nil
	}

	reqs, err := nl.Messages(b)
	if err != nil {
		return fmt.Errorf("fake kernel can't parse the request: %w", err)
	}
	for _, req := range reqs {
		for _, dgram := range c.Respond(req) {
			if err := c.QueueMessages(0, dgram...); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Conn) Peek(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return 0, nlsock.ErrWouldBlock
	}
	return len(c.queue[0].Data), nil
}

func (c *Conn) Recv(b []byte) (int, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return 0, 0, nlsock.ErrWouldBlock
	}
	d := c.queue[0]
	c.queue = c.queue[1:]

	return copy(b, d.Data), d.From, nil
}

func (c *Conn) AttachFilter(prog []bpf.RawInstruction) error {
	if c.FilterErr != nil {
		return c.FilterErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Filter = prog
	return nil
}

func (c *Conn) DetachFilter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detached++
	c.Filter = nil
	return nil
}

func (c *Conn) Close() error {
	if c.Closed {
		return errors.New("already closed")
	}
	c.Closed = true
	return nil
}

// Reply builds a response to req: every message gets req's sequence
// number and pid.
func Reply(req netlink.Message, msgs ...netlink.Message) []netlink.Message {
	out := make([]netlink.Message, 0, len(msgs))
	for _, m := range msgs {
		m.Header.Sequence = req.Header.Sequence
		m.Header.PID = req.Header.PID
		out = append(out, m)
	}
	return out
}

// Marshal concatenates msgs into one buffer.
func Marshal(msgs ...netlink.Message) ([]byte, error) {
	var b []byte
	for _, m := range msgs {
		mb, err := nl.MarshalMessage(m)
		if err != nil {
			return nil, err
		}
		b = append(b, mb...)
	}
	return b, nil
}

// Loop is a fake nlsock.Loop whose callbacks run when Fire is called.
type Loop struct {
	AddErr  error
	Readers map[int]func()
}

func NewLoop() *Loop {
	return &Loop{Readers: map[int]func(){}}
}

func (l *Loop) AddReader(fd int, cb func()) error {
	if l.AddErr != nil {
		return l.AddErr
	}
	l.Readers[fd] = cb
	return nil
}

func (l *Loop) RemoveReader(fd int) error {
	if _, ok := l.Readers[fd]; !ok {
		return fmt.Errorf("no reader for fd %d", fd)
	}
	delete(l.Readers, fd)
	return nil
}

// Fire runs the callback registered for fd, if any.
func (l *Loop) Fire(fd int) bool {
	cb, ok := l.Readers[fd]
	if ok {
		cb()
	}
	return ok
}
