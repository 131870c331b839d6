package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"vpn-session-monitor/internal/collector"
	"vpn-session-monitor/internal/config"
	"vpn-session-monitor/internal/conntrack"
	"vpn-session-monitor/internal/directory"
	"vpn-session-monitor/internal/events"
	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/monitor"
	"vpn-session-monitor/internal/procfs"
	"vpn-session-monitor/internal/status"
	"vpn-session-monitor/internal/sysctl"
	"vpn-session-monitor/internal/web"
)

const logFileMaxSizeMB = 50

// Run wires the application together and blocks until termination.
func Run(cfg config.Config, version string) int {
	if cfg.ShowVersion {
		fmt.Fprintln(os.Stdout, "vpn-session-monitor", version)
		return 0
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.Info
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		format = logging.Logfmt
	}
	out, closeLog := logging.Output(cfg.LogFile, logFileMaxSizeMB)
	defer func() { _ = closeLog() }()
	log := logging.New(out, level, format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, version, log); err != nil {
		log.Error("fatal", "err", err)
		// Non-zero to indicate runtime error.
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, version string, log *logging.Logger) error {
	log.Info("starting vpn-session-monitor", "version", version, "source", cfg.ConntrackSource, "interval", cfg.CollectorInterval)

	pfs := procfs.FS{Root: cfg.ProcfsPath}
	sysctl.CheckAccounting(pfs, cfg.ConfigureAcct, log)

	source, err := conntrack.NewSource(conntrack.Options{
		Kind:    conntrack.Kind(cfg.ConntrackSource),
		Command: cfg.ConntrackCommand,
		Timeout: cfg.ConntrackTimeout,
		Procfs:  pfs,
	})
	if err != nil {
		return err
	}

	// Prometheus registry and exporter metrics control.
	reg := prometheus.NewRegistry()
	if !cfg.WebDisableExporterMetrics {
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
	}
	metrics := collector.NewSessionCollector()
	metrics.MustRegister(reg)

	exporter := status.NewExporter(cfg.StatusFile)

	deps := monitor.Deps{
		Directory: directory.New(cfg.PeersFile, cfg.ResourcesFile),
		Source:    source,
		Exporter:  exporter,
		Metrics:   metrics,
		Log:       log,
	}

	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			// Events are optional; the status file and metrics still work.
			log.Warn("session events disabled", "err", err)
		} else {
			defer func() {
				if err := pub.Close(); err != nil {
					log.Warn("close nats connection", "err", err)
				}
			}()
			deps.Events = pub
			log.Info("publishing session events", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		}
	}

	mon := monitor.New(deps, monitor.WithInterval(cfg.CollectorInterval))

	srv := &web.Server{
		Logger:            log,
		Registry:          reg,
		Status:            exporter,
		TelemetryPath:     cfg.WebTelemetryPath,
		ListenAddrs:       cfg.WebListenAddresses,
		MaxRequests:       cfg.WebMaxRequests,
		DisableExpMetrics: cfg.WebDisableExporterMetrics,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = mon.Run(ctx)
	}()

	// Run HTTP server (blocks). When it returns, stop the poll loop.
	err = srv.Start(ctx)
	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
