// Package eventloop runs file descriptor callbacks and posted work on a
// single goroutine so that the engine never needs locks of its own.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/josharian/native"
	"golang.org/x/sys/unix"
)

const maxEvents = 32

var ErrClosed = errors.New("event loop closed")

type Loop struct {
	logger *slog.Logger

	epfd   int
	wakefd int

	mu      sync.Mutex
	readers map[int]func()
	posted  []func()
	closed  bool
}

// New sets up the epoll instance and the eventfd Post wakes the loop with.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	l := &Loop{
		logger:  types.NewLogger("eventloop", true),
		epfd:    epfd,
		wakefd:  wakefd,
		readers: map[int]func(){},
	}

	if err := l.ctl(unix.EPOLL_CTL_ADD, wakefd); err != nil {
		return nil, errors.Join(err, l.Close())
	}

	return l, nil
}

func (l *Loop) ctl(op, fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(l.epfd, op, fd, ev))
}

// AddReader calls cb on the loop goroutine whenever fd is readable.
func (l *Loop) AddReader(fd int, cb func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, ok := l.readers[fd]; ok {
		return fmt.Errorf("fd %d already has a reader", fd)
	}
	if err := l.ctl(unix.EPOLL_CTL_ADD, fd); err != nil {
		return err
	}

	l.readers[fd] = cb
	return nil
}

func (l *Loop) RemoveReader(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.readers[fd]; !ok {
		return fmt.Errorf("fd %d has no reader", fd)
	}
	delete(l.readers, fd)

	if l.closed {
		return nil
	}
	return l.ctl(unix.EPOLL_CTL_DEL, fd)
}

// Post queues fn to run on the loop goroutine. It's safe to call from any
// goroutine.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	return l.wake()
}

// Do runs fn on the loop goroutine and waits for its result. It must never
// be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if err := l.Post(func() { res <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) wake() error {
	var one [8]byte
	native.Endian.PutUint64(one[:], 1)

	_, err := unix.Write(l.wakefd, one[:])
	// EAGAIN means the counter is already non-zero: the loop will wake.
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (l *Loop) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wakefd, buf[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (l *Loop) runPosted() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

// Run dispatches callbacks until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := l.wake(); err != nil {
			l.logger.Warn("couldn't wake the loop up", "err", err)
		}
	})
	defer stop()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return os.NewSyscallError("epoll_wait", err)
		}

		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			if fd == l.wakefd {
				l.drainWake()
				l.runPosted()
				continue
			}

			l.mu.Lock()
			cb, ok := l.readers[fd]
			l.mu.Unlock()

			// Removed by an earlier callback in this batch.
			if !ok {
				continue
			}
			cb()
		}
	}
}

// Close releases the loop's descriptors. Registered readers are forgotten,
// not closed.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return errors.Join(
		os.NewSyscallError("close", unix.Close(l.wakefd)),
		os.NewSyscallError("close", unix.Close(l.epfd)),
	)
}
