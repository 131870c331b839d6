package monitor

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"vpn-session-monitor/internal/conntrack"
	"vpn-session-monitor/internal/directory"
	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/session"
)

const DefaultInterval = 5 * time.Second

// Directory is the reloadable peer and resource lookup.
type Directory interface {
	session.Directory
	Reload() (directory.ReloadResult, error)
	Counts() (peers, resources int)
}

type Exporter interface {
	Export(records []session.Record, now time.Time) error
}

// Observer receives per-cycle outcomes, typically for metrics.
type Observer interface {
	ObserveReload(peers, resources int, err error)
	ObserveCycle(res session.Result, live []session.Record, elapsed time.Duration)
	ObserveExport(err error)
}

// EventSink is notified of session transitions.
type EventSink interface {
	SessionStarted(r session.Record, now time.Time) error
	SessionStopped(s session.Stopped, now time.Time) error
}

// Deps are the collaborators of a Monitor. Metrics and Events may be nil.
type Deps struct {
	Directory Directory
	Source    conntrack.Source
	Exporter  Exporter
	Metrics   Observer
	Events    EventSink
	Log       *logging.Logger
}

type Option func(*Monitor)

func WithClock(c quartz.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithInterval sets the target cycle period. Values <= 0 are ignored.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Monitor runs the poll loop: reload the directory, snapshot conntrack,
// advance the session table, export. Everything runs on the caller's
// goroutine; a Monitor must not be used concurrently.
type Monitor struct {
	deps     Deps
	engine   *session.Engine
	clock    quartz.Clock
	interval time.Duration
	log      *logging.Logger
}

func New(deps Deps, opts ...Option) *Monitor {
	m := &Monitor{
		deps:     deps,
		engine:   session.NewEngine(deps.Directory),
		clock:    quartz.NewReal(),
		interval: DefaultInterval,
		log:      deps.Log,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sessions returns the live sessions after the last cycle.
func (m *Monitor) Sessions() []session.Record {
	return m.engine.Sessions()
}

// Run executes cycles until ctx is done. Each cycle is followed by a sleep
// of interval minus the time the cycle took; a cycle that overran starts
// the next one immediately, and missed ticks are not made up.
//
// ctx is checked between cycles and during the sleep only. A failed export
// is logged and the loop goes on.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started", "interval", m.interval)
	defer m.log.Info("monitor stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := m.clock.Now("monitor", "cycle")
		if err := m.RunCycle(ctx); err != nil {
			m.log.Error("cycle failed", "err", err)
		}

		wait := m.interval - m.clock.Since(start, "monitor", "cycle")
		if wait <= 0 {
			m.log.Debug("cycle overran interval", "interval", m.interval, "over", -wait)
			continue
		}

		t := m.clock.NewTimer(wait, "monitor", "sleep")
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// RunCycle performs one full cycle. Only an export failure is returned;
// directory and conntrack failures are logged and the cycle carries on.
func (m *Monitor) RunCycle(ctx context.Context) error {
	start := m.clock.Now("monitor", "cycle")

	m.reload()

	cycle := session.Cycle{}
	snap, err := m.deps.Source.Snapshot(ctx)
	if err != nil {
		m.log.Warn("conntrack snapshot unavailable", "err", err)
	} else {
		cycle.Available = true
		cycle.Flows = snap.Flows
		if snap.Skipped > 0 {
			m.log.Debug("conntrack entries skipped", "count", snap.Skipped)
		}
	}
	cycle.Time = m.clock.Now("monitor", "scan")
	m.log.Info("scan", "flows", len(cycle.Flows), "available", cycle.Available)

	res := m.engine.Advance(cycle)
	m.report(res)

	live := m.engine.Sessions()
	exportErr := m.deps.Exporter.Export(live, cycle.Time)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveExport(exportErr)
		m.deps.Metrics.ObserveCycle(res, live, m.clock.Since(start, "monitor", "cycle"))
	}
	return exportErr
}

func (m *Monitor) reload() {
	res, err := m.deps.Directory.Reload()
	peers, resources := m.deps.Directory.Counts()
	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveReload(peers, resources, err)
	}
	if err != nil {
		m.log.Error("directory reload failed", "err", err, "peers", peers, "resources", resources)
		return
	}
	if !res.Changed {
		return
	}
	for _, item := range res.Skipped {
		m.log.Warn("directory entry skipped", "file", item.File, "item", item.Item, "reason", item.Reason)
	}
	m.log.Info("directory reloaded", "peers", res.Peers, "resources", res.Resources, "skipped", len(res.Skipped))
}

func (m *Monitor) report(res session.Result) {
	for _, r := range res.Started {
		m.log.Info("session start",
			"interface", r.Interface,
			"peer", r.PeerName,
			"source", r.Source(),
			"service", r.Service,
			"resource", r.Target(),
			"protocol", r.Protocol,
		)
		if m.deps.Events != nil {
			if err := m.deps.Events.SessionStarted(r, res.Time); err != nil {
				m.log.Warn("publish session event", "event", "start", "err", err)
			}
		}
	}

	for _, s := range res.Stopped {
		m.log.Info("session stop",
			"interface", s.Interface,
			"peer", s.PeerName,
			"source", s.Source(),
			"service", s.Service,
			"duration_sec", int64(s.Duration/time.Second),
			"bytes", s.TotalBytes,
		)
		if m.deps.Events != nil {
			if err := m.deps.Events.SessionStopped(s, res.Time); err != nil {
				m.log.Warn("publish session event", "event", "stop", "err", err)
			}
		}
	}

	if len(res.Rejected) > 0 && m.log.Enabled(logging.Debug) {
		for v, n := range res.Rejected {
			m.log.Debug("flows rejected", "reason", v, "count", n)
		}
	}
}

