package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatalf("couldn't create the loop: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func pipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("couldn't create a pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func run(t *testing.T, l *Loop, ctx context.Context) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	return errc
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("the loop didn't stop")
	}
	return nil
}

func TestReader(t *testing.T) {
	l := newLoop(t)
	r, w := pipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []byte
	err := l.AddReader(r, func() {
		buf := make([]byte, 16)
		n, err := unix.Read(r, buf)
		if err != nil {
			t.Errorf("couldn't read: %v", err)
		}
		got = append(got, buf[:n]...)
		if len(got) >= 5 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.AddReader(r, func() {}); err == nil {
		t.Errorf("expected an error registering fd %d twice", r)
	}

	errc := run(t, l, ctx)
	if _, err := unix.Write(w, []byte("hello")); err != nil {
		t.Fatalf("couldn't write: %v", err)
	}

	if err := wait(t, errc); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v; want context.Canceled", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q; want %q", got, "hello")
	}

	if err := l.RemoveReader(r); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := l.RemoveReader(r); err == nil {
		t.Errorf("expected an error removing fd %d twice", r)
	}
}

func TestPost(t *testing.T) {
	l := newLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := run(t, l, ctx)

	var order []int
	for i := range 3 {
		if err := l.Post(func() { order = append(order, i) }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	boom := errors.New("boom")
	if err := l.Do(ctx, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("got %v; want %v", err, boom)
	}

	// Do runs after the earlier posts, on the same goroutine.
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("posted functions ran as %v", order)
	}

	cancel()
	if err := wait(t, errc); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v; want context.Canceled", err)
	}
}

func TestClosed(t *testing.T) {
	l := newLoop(t)
	r, _ := pipe(t)

	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if err := l.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v; want ErrClosed", err)
	}
	if err := l.AddReader(r, func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v; want ErrClosed", err)
	}
}
