package sysctl

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/procfs"
)

func fakeProc(t *testing.T, value string) procfs.FS {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "sys/net/netfilter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if value != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nf_conntrack_acct"), []byte(value), 0o644))
	}
	return procfs.FS{Root: root}
}

func TestReadNfConntrackAcct(t *testing.T) {
	v, err := ReadNfConntrackAcct(fakeProc(t, "1\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = ReadNfConntrackAcct(fakeProc(t, " \n"))
	assert.ErrorContains(t, err, "is empty")

	_, err = ReadNfConntrackAcct(fakeProc(t, "yes"))
	assert.ErrorContains(t, err, "invalid")

	_, err = ReadNfConntrackAcct(fakeProc(t, ""))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigureNfConntrackAcct(t *testing.T) {
	fs := fakeProc(t, "0\n")
	require.NoError(t, ConfigureNfConntrackAcct(fs))

	v, err := ReadNfConntrackAcct(fs)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCheckAccounting(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logging.Info, logging.Logfmt)

	assert.False(t, CheckAccounting(fakeProc(t, "0\n"), false, log))
	assert.Contains(t, buf.String(), "nf_conntrack_acct is disabled")

	buf.Reset()
	assert.True(t, CheckAccounting(fakeProc(t, "0\n"), true, log))
	assert.Contains(t, buf.String(), "configured nf_conntrack_acct")

	buf.Reset()
	assert.False(t, CheckAccounting(fakeProc(t, ""), false, log))
	assert.Contains(t, buf.String(), "failed to read nf_conntrack_acct")
}
