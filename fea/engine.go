package fea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
)

// Engine keeps an interface tree in sync with the kernel. It owns two
// sockets: one joined to the notification groups and driven by the event
// loop, and one private to request/response exchanges.
type Engine struct {
	config Config
	logger *slog.Logger

	tree    *iftree.Tree
	dec     *Decoder
	monitor *Monitor

	monSock *nlsock.Socket
	reqSock *nlsock.Socket
	session *Session
	monSub  *nlsock.Subscription

	table atomic.Uint32

	Dumper *Dumper
	Links  *LinkQuerier
	Routes *RouteInstaller
}

// Stats gathers the counters of everything the engine drives.
type Stats struct {
	Monitor      MonitorStats
	Notification nlsock.Stats
	Request      nlsock.Stats
	Ifaces       int
	Addrs        int
	Routes       int
	TableID      uint32
}

// NewEngine wires the engine up. Nothing touches the kernel until Start.
// All methods but Stats and AddSink must run on the loop's goroutine.
func NewEngine(loop nlsock.Loop, tree *iftree.Tree, platform nl.Platform, config *Config) *Engine {
	if config == nil {
		config = &DefaultConfig
	}

	e := &Engine{
		config: *config,
		logger: types.NewLogger("fea", config.Log),
		tree:   tree,
	}

	e.dec = &Decoder{
		Tree:     tree,
		Local:    tree,
		Platform: platform,
		TableID:  config.Netlink.TableID,
	}
	e.monitor = NewMonitor(e.dec, tree, e.logger)
	e.table.Store(config.Netlink.TableID)

	registry := nlsock.NewRegistry()

	// Notifications never come flagged as multi-part, so the dump
	// workaround would keep them from ever being delivered.
	monConfig := config.Netlink
	monConfig.MultipartRead = false
	e.monSock = nlsock.New(loop, registry, &monConfig)

	// Replies only: the request socket joins no groups and is only read
	// from by its Reader. The table filter stays off it since dump replies
	// pack many routes per datagram; the decoder sorts those out.
	reqConfig := config.Netlink
	reqConfig.Groups = 0
	reqConfig.TableID = 0
	reqConfig.MultipartRead = false
	e.reqSock = nlsock.New(nil, registry, &reqConfig)

	return e
}

// SetDialer replaces how both sockets get opened.
func (e *Engine) SetDialer(d nlsock.Dialer) error {
	return errors.Join(e.monSock.SetDialer(d), e.reqSock.SetDialer(d))
}

// AddSink hands every future kernel notification to ch.
func (e *Engine) AddSink(ch chan<- types.Event) {
	e.monitor.AddSink(ch)
}

func (e *Engine) Tree() *iftree.Tree {
	return e.tree
}

// Start opens both sockets and, if configured, loads the kernel's current
// state into the tree.
func (e *Engine) Start(ctx context.Context) error {
	families, err := e.config.families()
	if err != nil {
		return err
	}

	if err := e.monSock.Start(); err != nil {
		return fmt.Errorf("couldn't start the notification socket: %w", err)
	}
	if err := e.reqSock.Start(); err != nil {
		return errors.Join(fmt.Errorf("couldn't start the request socket: %w", err), e.monSock.Stop())
	}

	session, err := NewSession(e.reqSock)
	if err != nil {
		return errors.Join(err, e.Stop())
	}
	e.session = session

	e.Dumper = NewDumper(session, e.dec, e.logger)
	e.Dumper.MultipartRead = e.config.Netlink.MultipartRead
	e.Links = NewLinkQuerier(e.Dumper)
	e.Routes = NewRouteInstaller(session, e.dec, e.logger)

	sub, err := e.monSock.Subscribe(e.monitor)
	if err != nil {
		return errors.Join(err, e.Stop())
	}
	e.monSub = sub

	e.logger.Info("netlink sockets up", "notifications", e.monSock, "requests", e.reqSock)

	if !e.config.SyncOnStart {
		return nil
	}
	if err := e.Dumper.Sync(ctx, families, e.tree); err != nil {
		return errors.Join(fmt.Errorf("couldn't synchronise with the kernel: %w", err), e.Stop())
	}

	return nil
}

// Stop closes both sockets. It's safe to call more than once.
func (e *Engine) Stop() error {
	var errs []error

	if e.monSub != nil {
		errs = append(errs, e.monSub.Close())
		e.monSub = nil
	}
	if e.session != nil {
		errs = append(errs, e.session.Close())
		e.session = nil
	}

	errs = append(errs, e.monSock.Stop(), e.reqSock.Stop())

	return errors.Join(errs...)
}

// SetTableID moves the notification filter and the decoders over to table.
func (e *Engine) SetTableID(table uint32) {
	if table == e.dec.TableID {
		return
	}

	e.monSock.NotifyTableIDChange(table)
	e.dec.TableID = table
	e.table.Store(table)
}

func (e *Engine) Stats() Stats {
	ifaces, addrs, routes := e.tree.Counts()
	return Stats{
		Monitor:      e.monitor.Stats(),
		Notification: e.monSock.Stats(),
		Request:      e.reqSock.Stats(),
		Ifaces:       ifaces,
		Addrs:        addrs,
		Routes:       routes,
		TableID:      e.table.Load(),
	}
}
