package sysctl

import (
	"fmt"
	"strconv"

	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/procfs"
)

// nfConntrackAcct gates conntrack byte/packet counters. Without it set to 1
// every flow reports zero packets and bytes, so sessions are still tracked
// but carry no volume.
const nfConntrackAcct = "net.netfilter.nf_conntrack_acct"

// ReadNfConntrackAcct returns the current value of net.netfilter.nf_conntrack_acct.
func ReadNfConntrackAcct(fs procfs.FS) (int, error) {
	s, err := fs.ReadSysctl(nfConntrackAcct)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, fmt.Errorf("%s is empty", fs.SysctlPath(nfConntrackAcct))
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", fs.SysctlPath(nfConntrackAcct), s, err)
	}

	return v, nil
}

// ConfigureNfConntrackAcct sets net.netfilter.nf_conntrack_acct=1 and reads
// it back. Needs root.
func ConfigureNfConntrackAcct(fs procfs.FS) error {
	if err := fs.WriteSysctl(nfConntrackAcct, "1"); err != nil {
		return err
	}

	v, err := ReadNfConntrackAcct(fs)
	if err != nil {
		return err
	}
	if v != 1 {
		return fmt.Errorf("failed to set %s to 1 (current=%d)", fs.SysctlPath(nfConntrackAcct), v)
	}

	return nil
}

// CheckAccounting optionally enables accounting, then warns when it is off.
// Neither outcome stops the monitor. It reports whether accounting is known
// to be enabled.
func CheckAccounting(fs procfs.FS, configure bool, log *logging.Logger) bool {
	if configure {
		if err := ConfigureNfConntrackAcct(fs); err != nil {
			log.Warn("failed to configure nf_conntrack_acct", "err", err)
		} else {
			log.Info("configured nf_conntrack_acct", "value", 1)
		}
	}

	acct, err := ReadNfConntrackAcct(fs)
	switch {
	case err != nil:
		log.Warn("failed to read nf_conntrack_acct", "err", err)
		return false
	case acct == 0:
		log.Warn("nf_conntrack_acct is disabled; session byte counters will stay at zero")
		return false
	}
	return true
}
