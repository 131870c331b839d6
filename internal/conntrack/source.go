package conntrack

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"vpn-session-monitor/internal/procfs"
)

// ErrUnavailable marks a poll for which no snapshot could be taken. Callers
// treat it as an empty scan for that cycle and carry on.
var ErrUnavailable = errors.New("conntrack snapshot unavailable")

// Source produces the current conntrack table on demand. Every error a
// Source returns wraps ErrUnavailable.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// CommandSource runs the conntrack CLI (`conntrack -L -o xml`).
type CommandSource struct {
	Path string
	// Timeout bounds one invocation. Zero means no bound: a hung conntrack
	// process stalls the poll loop.
	Timeout time.Duration

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewCommandSource(path string, timeout time.Duration) *CommandSource {
	if path == "" {
		path = "conntrack"
	}
	return &CommandSource{Path: path, Timeout: timeout, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// The CLI prints its "N flow entries have been shown" summary on stderr.
	cmd.Stderr = nil
	return cmd.Output()
}

func (s *CommandSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	out, err := s.run(ctx, s.Path, "-L", "-o", "xml")
	if err != nil {
		return Snapshot{}, unavailable(fmt.Errorf("run %s: %w", s.Path, err))
	}

	snap, err := ParseXML(out)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	return snap, nil
}

// ProcSource reads `net/nf_conntrack` under a procfs mount.
type ProcSource struct {
	FS procfs.FS
}

const nfConntrackRelPath = "net/nf_conntrack"

func (s ProcSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, unavailable(err)
	}

	f, err := s.FS.Open(nfConntrackRelPath)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	defer f.Close()

	snap, err := ParseProc(f)
	if err != nil {
		return Snapshot{}, unavailable(fmt.Errorf("%s: %w", s.FS.Path(nfConntrackRelPath), err))
	}
	return snap, nil
}

// Kind names a Source implementation in configuration.
type Kind string

const (
	KindCLI     Kind = "cli"
	KindProcfs  Kind = "procfs"
	KindNetlink Kind = "netlink"
)

// Options configures NewSource.
type Options struct {
	Kind    Kind
	Command string
	Timeout time.Duration
	Procfs  procfs.FS
}

// NewSource builds the Source selected by opts.Kind.
func NewSource(opts Options) (Source, error) {
	switch opts.Kind {
	case KindCLI, "":
		return NewCommandSource(opts.Command, opts.Timeout), nil
	case KindProcfs:
		return ProcSource{FS: opts.Procfs}, nil
	case KindNetlink:
		return NewNetlinkSource(), nil
	default:
		return nil, fmt.Errorf("unknown conntrack source %q (want one of: cli, procfs, netlink)", opts.Kind)
	}
}
