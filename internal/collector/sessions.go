package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vpn-session-monitor/internal/ports"
	"vpn-session-monitor/internal/session"
)

// SessionCollector mirrors the session table into Prometheus metrics.
//
// Design notes:
//   - Per-group metrics are Gauges, because the table is a snapshot.
//   - On each cycle we RESET the GaugeVecs, effectively deleting groups whose
//     sessions all stopped.
//   - Sessions are aggregated by (interface, peer, service, protocol,
//     l7protocol) rather than by 4-tuple; source ports would explode the
//     label space.
//   - Transitions (start/stop/reject) and failures are Counters.
type SessionCollector struct {
	// Per-group snapshot metrics (GaugeVec) - reset on each cycle.
	sessions     *prometheus.GaugeVec
	sentPackets  *prometheus.GaugeVec
	sentBytes    *prometheus.GaugeVec
	replyPackets *prometheus.GaugeVec
	replyBytes   *prometheus.GaugeVec

	// Totals (Gauge) - recomputed from the same snapshot.
	totalSessions   prometheus.Gauge
	totalSentBytes  prometheus.Gauge
	totalReplyBytes prometheus.Gauge

	started        *prometheus.CounterVec
	stopped        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	scanFailures   prometheus.Counter
	reloadFailures prometheus.Counter
	exportFailures prometheus.Counter

	directoryPeers     prometheus.Gauge
	directoryResources prometheus.Gauge

	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
}

var labelNames = []string{"interface", "peer", "service", "protocol", "l7protocol"}

type key struct {
	Interface string
	Peer      string
	Service   string
	Protocol  string
	L7        string
}

type aggValues struct {
	Sessions     uint64
	SentPackets  uint64
	SentBytes    uint64
	ReplyPackets uint64
	ReplyBytes   uint64
}

func NewSessionCollector() *SessionCollector {
	c := &SessionCollector{}

	c.sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpn_sessions_active",
		Help: "Number of active sessions in the group.",
	}, labelNames)
	c.sentPackets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpn_session_sent_packets",
		Help: "Packets sent peer -> resource by the active sessions of the group.",
	}, labelNames)
	c.sentBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpn_session_sent_bytes",
		Help: "Bytes sent peer -> resource by the active sessions of the group.",
	}, labelNames)
	c.replyPackets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpn_session_reply_packets",
		Help: "Packets sent resource -> peer by the active sessions of the group.",
	}, labelNames)
	c.replyBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpn_session_reply_bytes",
		Help: "Bytes sent resource -> peer by the active sessions of the group.",
	}, labelNames)

	c.totalSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_sessions_total_active",
		Help: "Total number of active sessions after the last cycle.",
	})
	c.totalSentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_session_total_sent_bytes",
		Help: "Bytes sent peer -> resource summed over all active sessions.",
	})
	c.totalReplyBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_session_total_reply_bytes",
		Help: "Bytes sent resource -> peer summed over all active sessions.",
	})

	c.started = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_sessions_started_total",
		Help: "Sessions started.",
	}, []string{"interface", "service"})
	c.stopped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_sessions_stopped_total",
		Help: "Sessions stopped.",
	}, []string{"interface", "service"})
	c.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_flows_rejected_total",
		Help: "Flows that did not start a session, by reason.",
	}, []string{"reason"})
	c.scanFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_conntrack_scan_failures_total",
		Help: "Cycles for which no conntrack snapshot was available.",
	})
	c.reloadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_directory_reload_failures_total",
		Help: "Failed directory reloads; the previous directory stays in use.",
	})
	c.exportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_status_export_failures_total",
		Help: "Cycles whose status artifact could not be written.",
	})

	c.directoryPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_directory_peers",
		Help: "Peers in the loaded directory.",
	})
	c.directoryResources = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_directory_resources",
		Help: "Resources in the loaded directory.",
	})

	c.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vpn_monitor_cycle_duration_seconds",
		Help:    "Time spent in one poll cycle.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	c.lastCycle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_monitor_last_cycle_timestamp_seconds",
		Help: "Unix time of the last completed cycle.",
	})

	return c
}

// MustRegister registers all metrics into the provided registry.
func (c *SessionCollector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.sessions,
		c.sentPackets,
		c.sentBytes,
		c.replyPackets,
		c.replyBytes,
		c.totalSessions,
		c.totalSentBytes,
		c.totalReplyBytes,
		c.started,
		c.stopped,
		c.rejected,
		c.scanFailures,
		c.reloadFailures,
		c.exportFailures,
		c.directoryPeers,
		c.directoryResources,
		c.cycleDuration,
		c.lastCycle,
	)
}

// ObserveReload records the outcome of a directory reload.
func (c *SessionCollector) ObserveReload(peers, resources int, err error) {
	if err != nil {
		c.reloadFailures.Inc()
		return
	}
	c.directoryPeers.Set(float64(peers))
	c.directoryResources.Set(float64(resources))
}

// ObserveExport records a failed status export.
func (c *SessionCollector) ObserveExport(err error) {
	if err != nil {
		c.exportFailures.Inc()
	}
}

// ObserveCycle records one engine step and the table it left behind.
func (c *SessionCollector) ObserveCycle(res session.Result, live []session.Record, elapsed time.Duration) {
	if !res.Available {
		c.scanFailures.Inc()
	}
	for _, r := range res.Started {
		c.started.WithLabelValues(r.Interface, r.Service).Inc()
	}
	for _, s := range res.Stopped {
		c.stopped.WithLabelValues(s.Interface, s.Service).Inc()
	}
	for v, n := range res.Rejected {
		c.rejected.WithLabelValues(v.String()).Add(float64(n))
	}

	c.applySnapshot(aggregate(live))

	c.cycleDuration.Observe(elapsed.Seconds())
	c.lastCycle.Set(float64(res.Time.UnixNano()) / 1e9)
}

func aggregate(live []session.Record) map[key]aggValues {
	out := map[key]aggValues{}
	for _, r := range live {
		k := key{
			Interface: r.Interface,
			Peer:      r.PeerName,
			Service:   r.Service,
			Protocol:  r.Protocol,
			L7:        ports.L7Protocol(r.Protocol, r.ResourcePort),
		}
		v := out[k]
		v.Sessions++
		v.SentPackets += r.Original.Packets
		v.SentBytes += r.Original.Bytes
		v.ReplyPackets += r.Reply.Packets
		v.ReplyBytes += r.Reply.Bytes
		out[k] = v
	}
	return out
}

func (c *SessionCollector) applySnapshot(cur map[key]aggValues) {
	// Reset per-group metrics (delete previous label pairs).
	c.sessions.Reset()
	c.sentPackets.Reset()
	c.sentBytes.Reset()
	c.replyPackets.Reset()
	c.replyBytes.Reset()

	var total, totalSent, totalReply uint64
	for k, v := range cur {
		labels := labelValues(k)
		c.sessions.WithLabelValues(labels...).Set(float64(v.Sessions))
		c.sentPackets.WithLabelValues(labels...).Set(float64(v.SentPackets))
		c.sentBytes.WithLabelValues(labels...).Set(float64(v.SentBytes))
		c.replyPackets.WithLabelValues(labels...).Set(float64(v.ReplyPackets))
		c.replyBytes.WithLabelValues(labels...).Set(float64(v.ReplyBytes))

		total += v.Sessions
		totalSent += v.SentBytes
		totalReply += v.ReplyBytes
	}

	c.totalSessions.Set(float64(total))
	c.totalSentBytes.Set(float64(totalSent))
	c.totalReplyBytes.Set(float64(totalReply))
}

func labelValues(k key) []string {
	return []string{k.Interface, k.Peer, k.Service, k.Protocol, k.L7}
}
