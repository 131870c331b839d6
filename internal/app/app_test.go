package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-session-monitor/internal/config"
	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/status"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "proc/sys/net/netfilter/nf_conntrack_acct"), "1\n")
	write(t, filepath.Join(root, "proc/net/nf_conntrack"),
		"ipv4     2 tcp      6 431999 ESTABLISHED src=10.0.0.5 dst=10.1.0.2 sport=51000 dport=443 packets=10 bytes=2000 src=10.1.0.2 dst=10.0.0.5 sport=443 dport=51000 packets=8 bytes=9000 [ASSURED] mark=0 use=2\n")
	write(t, filepath.Join(root, "peers.json"), `{"wg0": [{"IP_VPN": "10.0.0.5", "id": 1, "name": "A"}]}`)
	write(t, filepath.Join(root, "resources.json"), `{"resources": [{"IP_VPN": "10.1.0.2", "port": 443, "name": "web"}]}`)

	cfg := config.Config{
		CollectorInterval:  time.Hour,
		ConntrackSource:    "procfs",
		ProcfsPath:         filepath.Join(root, "proc"),
		PeersFile:          filepath.Join(root, "peers.json"),
		ResourcesFile:      filepath.Join(root, "resources.json"),
		StatusFile:         filepath.Join(root, "status.json"),
		WebTelemetryPath:   "/metrics",
		WebListenAddresses: []string{"127.0.0.1:0"},
	}

	var logs bytes.Buffer
	log := logging.New(&logs, logging.Info, logging.Logfmt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "test", log) }()

	var doc status.Document
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(cfg.StatusFile)
		if err != nil {
			return false
		}
		return json.Unmarshal(b, &doc) == nil
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}

	require.Equal(t, 1, doc.ActiveConnectionsCount)
	s := doc.Sessions[0]
	assert.Equal(t, "wg0", s.Interface)
	assert.Equal(t, "A", s.PeerName)
	assert.Equal(t, "10.1.0.2:443", s.Resource)
	assert.Equal(t, uint64(11000), s.Bytes)

	assert.Contains(t, logs.String(), `msg="session start"`)
	assert.Contains(t, logs.String(), `msg="monitor stopped"`)
}

func TestRunRejectsUnknownSource(t *testing.T) {
	cfg := config.Config{ConntrackSource: "pcap", ProcfsPath: t.TempDir()}
	log := logging.New(&bytes.Buffer{}, logging.Error, logging.Logfmt)
	err := run(context.Background(), cfg, "test", log)
	assert.ErrorContains(t, err, "unknown conntrack source")
}
