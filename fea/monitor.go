package fea

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	nl "github.com/greearb/xorp.ct-sub013/netlink"
	"github.com/greearb/xorp.ct-sub013/types"
)

// Monitor turns unsolicited kernel notifications into events. It's meant
// to observe a socket joined to the link, address and route groups.
type Monitor struct {
	dec    *Decoder
	apply  Applier
	logger *slog.Logger

	mu    sync.Mutex
	sinks []chan<- types.Event

	decoded atomic.Uint64
	ignored atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// MonitorStats is a snapshot of a Monitor's counters.
type MonitorStats struct {
	Decoded uint64
	Ignored uint64
	Failed  uint64
	Dropped uint64
}

func NewMonitor(dec *Decoder, apply Applier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{dec: dec, apply: apply, logger: logger}
}

// AddSink makes every future event be offered to ch. Sends never block:
// events for a full channel are counted and dropped.
func (m *Monitor) AddSink(ch chan<- types.Event) {
	m.mu.Lock()
	m.sinks = append(m.sinks, ch)
	m.mu.Unlock()
}

func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Decoded: m.decoded.Load(),
		Ignored: m.ignored.Load(),
		Failed:  m.failed.Load(),
		Dropped: m.dropped.Load(),
	}
}

// Deliver implements nlsock.Observer.
func (m *Monitor) Deliver(buf []byte) {
	msgs, err := nl.Messages(buf)
	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("dropping undecodable notification", "err", err)
		return
	}

	for _, msg := range msgs {
		if !nl.IsRouteFamilyMessage(msg.Header.Type) {
			m.logger.Log(context.Background(), types.LevelTrace, "skipping", "msg", nl.Summary(msg))
			continue
		}

		ev, err := m.dec.Decode(msg)
		if nl.IsIgnored(err) {
			m.ignored.Add(1)
			m.logger.Debug("ignoring", "msg", nl.Summary(msg), "reason", err)
			continue
		}
		if err != nil {
			m.failed.Add(1)
			m.logger.Warn("couldn't decode notification", "msg", nl.Summary(msg), "err", err)
			continue
		}
		m.decoded.Add(1)

		if m.apply != nil {
			if err := m.apply.Apply(ev); err != nil {
				m.logger.Warn("couldn't apply", "event", ev, "err", err)
			}
		}
		m.logger.Debug("kernel notification", "event", ev)

		m.publish(ev)
	}
}

func (m *Monitor) publish(ev types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.sinks {
		select {
		case ch <- ev:
		default:
			m.dropped.Add(1)
		}
	}
}
