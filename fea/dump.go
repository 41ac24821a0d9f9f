package fea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/mdlayher/netlink"
)

// Session runs one request/response exchange at a time over a socket no
// one else reads from.
type Session struct {
	sock   *nlsock.Socket
	reader *nlsock.Reader
}

func NewSession(sock *nlsock.Socket) (*Session, error) {
	r, err := nlsock.NewReader(sock)
	if err != nil {
		return nil, fmt.Errorf("couldn't attach a reader: %w", err)
	}
	return &Session{sock: sock, reader: r}, nil
}

func (s *Session) Close() error {
	return s.reader.Close()
}

// Do sends req and collects the reply. The returned buffer is only valid
// until the next exchange.
func (s *Session) Do(ctx context.Context, req netlink.Message) (uint32, []byte, error) {
	seq, err := s.sock.Send(req)
	if err != nil {
		return seq, nil, err
	}
	if err := s.reader.Receive(ctx, seq); err != nil {
		return seq, nil, err
	}
	return seq, s.reader.Buffer(), nil
}

// Dumper pulls the kernel's full state through a Session.
type Dumper struct {
	session *Session
	dec     *Decoder
	logger  *slog.Logger

	// MultipartRead has dump replies end on NLMSG_DONE only, for kernels
	// that leave NLM_F_MULTI off them.
	MultipartRead bool
}

func NewDumper(s *Session, dec *Decoder, logger *slog.Logger) *Dumper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dumper{session: s, dec: dec, logger: logger}
}

// dump decodes every record in the reply to req. Records the decoders
// ignore are skipped; records they reject are logged and skipped so that a
// single odd entry can't spoil a dump.
func (d *Dumper) dump(ctx context.Context, req netlink.Message, apply Applier) ([]types.Event, error) {
	if d.MultipartRead && req.Header.Flags&netlink.Root != 0 {
		d.session.sock.SetMultipartRead(true)
		defer d.session.sock.SetMultipartRead(false)
	}

	_, buf, err := d.session.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	msgs, err := nl.Messages(buf)
	if err != nil {
		return nil, err
	}

	evs := []types.Event{}
	for _, m := range msgs {
		if !nl.IsRouteFamilyMessage(m.Header.Type) {
			continue
		}

		ev, err := d.dec.Decode(m)
		if nl.IsIgnored(err) {
			d.logger.Debug("ignoring", "msg", nl.Summary(m), "reason", err)
			continue
		}
		if err != nil {
			d.logger.Warn("couldn't decode", "msg", nl.Summary(m), "err", err)
			continue
		}

		// Later records may depend on earlier ones: addresses need
		// their link in the tree.
		if apply != nil {
			if err := apply.Apply(ev); err != nil {
				d.logger.Warn("couldn't apply", "event", ev, "err", err)
			}
		}
		evs = append(evs, ev)
	}

	return evs, nil
}

func (d *Dumper) Links(ctx context.Context, apply Applier) ([]types.IfaceRecord, error) {
	req, err := nl.NewGetLinkRequest(0)
	if err != nil {
		return nil, err
	}

	evs, err := d.dump(ctx, req, apply)
	if err != nil {
		return nil, fmt.Errorf("couldn't dump links: %w", err)
	}

	out := make([]types.IfaceRecord, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == types.IfaceKind {
			out = append(out, *ev.Iface)
		}
	}
	return out, nil
}

func (d *Dumper) Addrs(ctx context.Context, family types.Family, apply Applier) ([]types.AddrRecord, error) {
	req, err := nl.NewGetAddrRequest(family)
	if err != nil {
		return nil, err
	}

	evs, err := d.dump(ctx, req, apply)
	if err != nil {
		return nil, fmt.Errorf("couldn't dump %s addresses: %w", family, err)
	}

	out := make([]types.AddrRecord, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == types.AddrKind {
			out = append(out, *ev.Addr)
		}
	}
	return out, nil
}

func (d *Dumper) Routes(ctx context.Context, family types.Family, apply Applier) ([]types.RouteEntry, error) {
	req, err := nl.NewGetRouteRequest(family, d.dec.TableID)
	if err != nil {
		return nil, err
	}

	evs, err := d.dump(ctx, req, apply)
	if err != nil {
		return nil, fmt.Errorf("couldn't dump %s routes: %w", family, err)
	}

	out := make([]types.RouteEntry, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == types.RouteKind {
			out = append(out, *ev.Route)
		}
	}
	return out, nil
}

// Sync loads links, then addresses and routes of every family into apply.
func (d *Dumper) Sync(ctx context.Context, families []types.Family, apply Applier) error {
	links, err := d.Links(ctx, apply)
	if err != nil {
		return err
	}

	var errs []error
	naddrs, nroutes := 0, 0
	for _, fam := range families {
		addrs, err := d.Addrs(ctx, fam, apply)
		if err != nil {
			errs = append(errs, err)
		}
		naddrs += len(addrs)

		routes, err := d.Routes(ctx, fam, apply)
		if err != nil {
			errs = append(errs, err)
		}
		nroutes += len(routes)
	}

	d.logger.Info("synchronised with the kernel", "links", len(links), "addrs", naddrs, "routes", nroutes)

	return errors.Join(errs...)
}
