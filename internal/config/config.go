package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	ConfigFile string

	CollectorInterval time.Duration

	ConntrackSource  string
	ConntrackCommand string
	ConntrackTimeout time.Duration
	ConfigureAcct    bool
	ProcfsPath       string

	PeersFile     string
	ResourcesFile string
	StatusFile    string

	WebTelemetryPath          string
	WebDisableExporterMetrics bool
	WebMaxRequests            int
	WebListenAddresses        multiString

	LogLevel  string
	LogFormat string
	LogFile   string

	NATSURL     string
	NATSSubject string

	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags parses os.Args with the process-wide flag set.
func ParseFlags() (Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse registers every flag on fs and parses args. If -config.file names a
// YAML file, its keys (flag names) supply values for flags that were not
// given on the command line.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config

	fs.StringVar(&cfg.ConfigFile, "config.file", "", "YAML file with flag values. Keys are flag names; command-line flags take precedence.")

	intervalSeconds := fs.Int("collector.interval", 5, "Seconds between conntrack scans.")

	fs.StringVar(&cfg.ConntrackSource, "conntrack.source", "cli", "Where flows are read from. One of: [cli, procfs, netlink]")
	fs.StringVar(&cfg.ConntrackCommand, "conntrack.command", "conntrack", "conntrack binary used by the cli source.")
	fs.DurationVar(&cfg.ConntrackTimeout, "conntrack.timeout", 0, "Timeout for one conntrack invocation. 0 means no timeout.")
	fs.BoolVar(&cfg.ConfigureAcct, "configure.nf_conntrack_acct", false, "Set sysctl variable to store packets/bytes counts.")
	fs.StringVar(&cfg.ProcfsPath, "path.procfs", "/proc", "Procfs mountpoint.")

	fs.StringVar(&cfg.PeersFile, "directory.peers-file", "/etc/vpn-session-monitor/peers.json", "Peer directory: interface name to list of peers.")
	fs.StringVar(&cfg.ResourcesFile, "directory.resources-file", "/etc/vpn-session-monitor/resources.json", "Resource directory.")
	fs.StringVar(&cfg.StatusFile, "status.file", "/dev/shm/vpn_live_status.json", "Where the live status document is written each cycle.")

	fs.StringVar(&cfg.WebTelemetryPath, "web.telemetry-path", "/metrics", "Path under which to expose metrics.")
	fs.BoolVar(&cfg.WebDisableExporterMetrics, "web.disable-exporter-metrics", false, "Exclude metrics about the exporter itself (promhttp_*, process_*, go_*).")
	fs.IntVar(&cfg.WebMaxRequests, "web.max-requests", 40, "Maximum number of parallel scrape requests. Use 0 to disable.")
	fs.Var(&cfg.WebListenAddresses, "web.listen-address", "Addresses on which to expose metrics and the session API. Repeatable. Examples: :9105 or [::1]:9105")

	fs.StringVar(&cfg.LogLevel, "log.level", "info", "Only log messages with the given severity or above. One of: [debug, info, warn, error]")
	fs.StringVar(&cfg.LogFormat, "log.format", "logfmt", "Output format of log messages. One of: [logfmt, json]")
	fs.StringVar(&cfg.LogFile, "log.file", "", "Log file, rotated by size. Empty means stderr.")

	fs.StringVar(&cfg.NATSURL, "nats.url", "", "NATS server for session start/stop events. Empty disables publishing.")
	fs.StringVar(&cfg.NATSSubject, "nats.subject", "vpn.sessions", "Subject prefix; events go to <prefix>.start and <prefix>.stop.")

	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help and exit.")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help and exit.")

	// Aliases.
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show application version and exit.")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show application version and exit.")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.ConfigFile != "" {
		if err := applyFile(fs, cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}

	cfg.CollectorInterval = time.Duration(*intervalSeconds) * time.Second
	if len(cfg.WebListenAddresses) == 0 {
		cfg.WebListenAddresses = append(cfg.WebListenAddresses, ":9105")
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.CollectorInterval <= 0 {
		errs = append(errs, fmt.Errorf("collector.interval must be positive, got %s", c.CollectorInterval))
	}
	switch c.ConntrackSource {
	case "cli", "procfs", "netlink":
	default:
		errs = append(errs, fmt.Errorf("unknown conntrack.source %q", c.ConntrackSource))
	}
	if c.ConntrackTimeout < 0 {
		errs = append(errs, fmt.Errorf("conntrack.timeout must not be negative, got %s", c.ConntrackTimeout))
	}
	if c.PeersFile == "" || c.ResourcesFile == "" {
		errs = append(errs, errors.New("directory.peers-file and directory.resources-file are required"))
	}
	if c.StatusFile == "" {
		errs = append(errs, errors.New("status.file is required"))
	}
	return errors.Join(errs...)
}

// applyFile sets flags from a YAML mapping of flag name to value. Lists are
// applied element by element, so repeatable flags can be given as sequences.
func applyFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, v := range values {
		if fs.Lookup(name) == nil {
			return fmt.Errorf("config file %s: unknown key %q", path, name)
		}
		if explicit[name] || name == "config.file" {
			continue
		}

		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		for _, item := range items {
			if err := fs.Set(name, yamlString(item)); err != nil {
				return fmt.Errorf("config file %s: %s: %w", path, name, err)
			}
		}
	}
	return nil
}

func yamlString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

type multiString []string

func (m *multiString) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiString) Set(value string) error {
	*m = append(*m, value)
	return nil
}
