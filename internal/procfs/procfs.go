package procfs

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is where procfs is normally mounted.
const DefaultRoot = "/proc"

// FS is a small helper around a procfs mount point.
//
// The monitor touches two places under it:
// - `net/nf_conntrack` when the procfs flow source is selected
// - `sys/net/netfilter/nf_conntrack_acct`, which gates byte/packet counters
//
// Pointing --path.procfs at a directory with the same layout is enough to
// replay a captured conntrack table.
type FS struct {
	Root string
}

func (fs FS) root() string {
	if fs.Root == "" {
		return DefaultRoot
	}
	return fs.Root
}

func (fs FS) Path(rel string) string {
	return filepath.Join(fs.root(), rel)
}

// Open opens rel for streaming reads; nf_conntrack can be large on a busy
// concentrator.
func (fs FS) Open(rel string) (io.ReadCloser, error) {
	return os.Open(fs.Path(rel))
}

// SysctlPath maps a dotted sysctl name (net.netfilter.nf_conntrack_acct)
// to its file under sys/.
func (fs FS) SysctlPath(name string) string {
	return fs.Path(filepath.Join("sys", strings.ReplaceAll(name, ".", "/")))
}

// ReadSysctl returns the value of name with surrounding whitespace removed.
func (fs FS) ReadSysctl(name string) (string, error) {
	b, err := os.ReadFile(fs.SysctlPath(name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// WriteSysctl writes value followed by the newline the kernel expects.
func (fs FS) WriteSysctl(name, value string) error {
	return os.WriteFile(fs.SysctlPath(name), []byte(value+"\n"), 0o644)
}
