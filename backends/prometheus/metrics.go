package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"

	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metric labels (note these are **always** strings):
//
//	kind: iface, addr or route
//	op: added, changed or deleted
//	socket: notification or request
//	iface: the interface name
//	index: the interface index
var (
	eventLabels  = []string{"kind", "op"}
	socketLabels = []string{"socket"}
	ifaceLabels  = []string{"iface", "index"}
)

// Source is what the metrics are scraped from. It's called from the HTTP
// server's goroutines.
type Source interface {
	Stats() fea.Stats
	Tree() *iftree.Tree
}

type metrics struct {
	Events *prometheus.CounterVec

	Ifaces  prometheus.GaugeFunc
	Addrs   prometheus.GaugeFunc
	Routes  prometheus.GaugeFunc
	TableID prometheus.GaugeFunc

	Decoded prometheus.CounterFunc
	Ignored prometheus.CounterFunc
	Failed  prometheus.CounterFunc
	Dropped prometheus.CounterFunc

	Sockets   *socketCollector
	IfaceInfo *ifaceCollector
}

func newMetrics(src Source) *metrics {
	stat := func(f func(fea.Stats) int) func() float64 {
		return func() float64 { return float64(f(src.Stats())) }
	}
	counter := func(f func(fea.MonitorStats) uint64) func() float64 {
		return func() float64 { return float64(f(src.Stats().Monitor)) }
	}

	return &metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fea_events_total",
			Help: "Kernel notifications handed to the backends",
		}, eventLabels),

		Ifaces: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fea_tree_ifaces",
			Help: "Interfaces in the tree",
		}, stat(func(s fea.Stats) int { return s.Ifaces })),
		Addrs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fea_tree_addrs",
			Help: "Addresses in the tree",
		}, stat(func(s fea.Stats) int { return s.Addrs })),
		Routes: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fea_tree_routes",
			Help: "Routes in the tree",
		}, stat(func(s fea.Stats) int { return s.Routes })),
		TableID: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fea_table_id",
			Help: "Routing table being tracked, 0 for all of them",
		}, stat(func(s fea.Stats) int { return int(s.TableID) })),

		Decoded: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fea_notifications_decoded_total",
			Help: "Notifications decoded",
		}, counter(func(s fea.MonitorStats) uint64 { return s.Decoded })),
		Ignored: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fea_notifications_ignored_total",
			Help: "Notifications for things we don't manage",
		}, counter(func(s fea.MonitorStats) uint64 { return s.Ignored })),
		Failed: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fea_notifications_failed_total",
			Help: "Notifications we couldn't decode",
		}, counter(func(s fea.MonitorStats) uint64 { return s.Failed })),
		Dropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fea_events_dropped_total",
			Help: "Events dropped on full sinks",
		}, counter(func(s fea.MonitorStats) uint64 { return s.Dropped })),

		Sockets:   newSocketCollector(src),
		IfaceInfo: newIfaceCollector(src),
	}
}

func (m *metrics) register(req prometheus.Registerer, logger *slog.Logger) error {
	v := reflect.ValueOf(*m)

	i := 0
	for i = 0; i < v.NumField(); i++ {
		vv, ok := v.Field(i).Interface().(prometheus.Collector)
		if !ok {
			return fmt.Errorf("error casting the interface for index %d", i)
		}
		if err := req.Register(vv); err != nil {
			return fmt.Errorf("error registering index %d: %w", i, err)
		}
	}
	logger.Log(context.Background(), types.LevelTrace, "registered collectors", "i", i)

	return nil
}

func (m *metrics) update(ev types.Event) {
	m.Events.WithLabelValues(ev.Kind.String(), ev.Op().String()).Inc()
}

type socketMetric struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	value func(nlsock.Stats) float64
}

// socketCollector reports both sockets' counters under a socket label.
type socketCollector struct {
	src     Source
	metrics []socketMetric
}

func newSocketCollector(src Source) *socketCollector {
	c := func(name, help string, f func(nlsock.Stats) uint64) socketMetric {
		return socketMetric{
			desc:  prometheus.NewDesc(name, help, socketLabels, nil),
			vtype: prometheus.CounterValue,
			value: func(s nlsock.Stats) float64 { return float64(f(s)) },
		}
	}

	return &socketCollector{
		src: src,
		metrics: []socketMetric{
			c("fea_netlink_datagrams_total", "Datagrams read", func(s nlsock.Stats) uint64 { return s.Datagrams }),
			c("fea_netlink_messages_total", "Messages read", func(s nlsock.Stats) uint64 { return s.Messages }),
			c("fea_netlink_bytes_total", "Bytes read", func(s nlsock.Stats) uint64 { return s.Bytes }),
			c("fea_netlink_sends_total", "Messages sent", func(s nlsock.Stats) uint64 { return s.Sends }),
			c("fea_netlink_send_errors_total", "Failed sends", func(s nlsock.Stats) uint64 { return s.SendErrors }),
			c("fea_netlink_recv_errors_total", "Failed reads", func(s nlsock.Stats) uint64 { return s.RecvErrors }),
			c("fea_netlink_discarded_total", "Datagrams not coming from the kernel", func(s nlsock.Stats) uint64 { return s.Discarded }),
			{
				desc:  prometheus.NewDesc("fea_netlink_filter_attached", "Whether the table filter is attached", socketLabels, nil),
				vtype: prometheus.GaugeValue,
				value: func(s nlsock.Stats) float64 { return boolToFloat(s.FilterAttached) },
			},
		},
	}
}

func (c *socketCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *socketCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.vtype, m.value(s.Notification), "notification")
		ch <- prometheus.MustNewConstMetric(m.desc, m.vtype, m.value(s.Request), "request")
	}
}

// ifaceCollector exports the state of every interface in the tree.
type ifaceCollector struct {
	src Source

	up      *prometheus.Desc
	carrier *prometheus.Desc
	mtu     *prometheus.Desc
	addrs   *prometheus.Desc
}

func newIfaceCollector(src Source) *ifaceCollector {
	return &ifaceCollector{
		src:     src,
		up:      prometheus.NewDesc("fea_iface_up", "Whether the interface is administratively up", ifaceLabels, nil),
		carrier: prometheus.NewDesc("fea_iface_carrier", "Whether the interface has carrier", ifaceLabels, nil),
		mtu:     prometheus.NewDesc("fea_iface_mtu", "Interface MTU", ifaceLabels, nil),
		addrs:   prometheus.NewDesc("fea_iface_addrs", "Addresses on the interface", ifaceLabels, nil),
	}
}

func (c *ifaceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.carrier
	ch <- c.mtu
	ch <- c.addrs
}

func (c *ifaceCollector) Collect(ch chan<- prometheus.Metric) {
	tree := c.src.Tree()
	for _, r := range tree.Ifaces() {
		labels := []string{r.Name, strconv.FormatUint(uint64(r.Index), 10)}

		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolToFloat(r.Enabled), labels...)
		ch <- prometheus.MustNewConstMetric(c.carrier, prometheus.GaugeValue, boolToFloat(!r.NoCarrier), labels...)
		ch <- prometheus.MustNewConstMetric(c.mtu, prometheus.GaugeValue, float64(r.MTU), labels...)
		ch <- prometheus.MustNewConstMetric(c.addrs, prometheus.GaugeValue, float64(len(tree.Addrs(r.Name))), labels...)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
