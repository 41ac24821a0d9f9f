package nlsock

import (
	"context"
	"errors"
	"fmt"
	"time"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/jpillora/backoff"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// ErrNoResponse means the socket ran dry, retries included, without the
// reply we were waiting for.
var ErrNoResponse = errors.New("no response")

// ExchangeState tracks one request/response exchange.
type ExchangeState int

const (
	Idle ExchangeState = iota
	Sent
	Receiving
	Matched
	NoResponse
	KernelError
)

var exchangeStateNames = map[ExchangeState]string{
	Idle:        "idle",
	Sent:        "sent",
	Receiving:   "receiving",
	Matched:     "matched",
	NoResponse:  "no response",
	KernelError: "kernel error",
}

func (s ExchangeState) String() string {
	return exchangeStateNames[s]
}

// Reader gives callers a blocking view of one exchange on a shared
// Socket: it keeps the messages carrying the awaited sequence number and
// our pid and drops everything else.
type Reader struct {
	sock *Socket
	sub  *Subscription

	seq     uint32
	state   ExchangeState
	matched bool
	cache   []byte
}

// NewReader subscribes a Reader to s. Close it when done.
func NewReader(s *Socket) (*Reader, error) {
	r := &Reader{sock: s}

	sub, err := s.Subscribe(r)
	if err != nil {
		return nil, err
	}
	r.sub = sub

	return r, nil
}

func (r *Reader) Close() error {
	return r.sub.Close()
}

func (r *Reader) State() ExchangeState {
	return r.state
}

// Buffer holds the messages of the last matched exchange in arrival order.
func (r *Reader) Buffer() []byte {
	return r.cache
}

// Deliver implements Observer.
func (r *Reader) Deliver(buf []byte) {
	if r.state != Sent && r.state != Receiving {
		return
	}

	pid := r.sock.PID()
	for off := 0; len(buf)-off >= nl.SizeofNlMsghdr; {
		h, _ := nl.ParseHeader(buf[off:])
		l := int(h.Length)
		if l < nl.SizeofNlMsghdr || l > len(buf)-off {
			break
		}
		next := min(off+nl.Align(l), len(buf))

		if h.Sequence == r.seq && h.PID == pid {
			r.cache = append(r.cache, buf[off:next]...)
			r.matched = true
		}

		off = next
	}

	if r.matched {
		r.state = Receiving
	}
}

// Receive drives the socket until the reply to seq has been assembled. When
// the socket runs dry it waits with an exponential backoff and gives up with
// ErrNoResponse once the configured retries are spent. A reply consisting of
// a kernel error is returned as a *nl.KernelError.
//
// Receive reads the shared socket directly, so calling it from within
// another observer's Deliver drains notifications meant for later.
func (r *Reader) Receive(ctx context.Context, seq uint32) error {
	r.seq = seq
	r.cache = nil
	r.matched = false
	r.state = Sent

	cfg := r.sock.Config()
	b := &backoff.Backoff{
		Min:    time.Duration(cfg.BackoffMinMs) * time.Millisecond,
		Max:    time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		Factor: 2,
	}

	for {
		if err := ctx.Err(); err != nil {
			r.abandon()
			return err
		}

		err := r.sock.ForceRecv(false)
		switch {
		case err == nil:
			b.Reset()
			if r.matched {
				return r.finish()
			}

		case errors.Is(err, ErrWouldBlock):
			if int(b.Attempt()) >= cfg.Retries {
				r.abandon()
				return fmt.Errorf("%w for %#x after %d retries", ErrNoResponse, seq, cfg.Retries)
			}

			t := time.NewTimer(b.Duration())
			select {
			case <-ctx.Done():
				t.Stop()
				r.abandon()
				return ctx.Err()
			case <-t.C:
			}

		default:
			r.abandon()
			return err
		}
	}
}

// abandon ends an exchange without a reply. Whatever part of a multi-part
// reply already arrived would otherwise be glued to the next one.
func (r *Reader) abandon() {
	r.state = NoResponse
	r.sock.resetPending()
}

func (r *Reader) finish() error {
	msgs, _ := nl.Messages(r.cache)
	for _, m := range msgs {
		if m.Header.Type != netlink.Error {
			continue
		}
		if code, err := nl.ErrorCode(m); err == nil && code != 0 {
			r.state = KernelError
			return &nl.KernelError{Errno: unix.Errno(-code), Seq: r.seq}
		}
	}

	r.state = Matched
	return nil
}
