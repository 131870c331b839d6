package conntrack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-session-monitor/internal/procfs"
)

func TestCommandSource(t *testing.T) {
	src := NewCommandSource("", 0)
	var gotName string
	var gotArgs []string
	src.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(xmlDump), nil
	}

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Flows, 2)
	assert.Equal(t, "conntrack", gotName)
	assert.Equal(t, []string{"-L", "-o", "xml"}, gotArgs)
}

func TestCommandSourceUnavailable(t *testing.T) {
	src := NewCommandSource("/usr/sbin/conntrack", 0)
	src.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("permission denied")
	}

	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "permission denied")

	src.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("not xml at all"), nil
	}
	_, err = src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCommandSourceTimeout(t *testing.T) {
	src := NewCommandSource("conntrack", 50*time.Millisecond)
	src.run = func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandSourceMissingBinary(t *testing.T) {
	src := NewCommandSource(filepath.Join(t.TempDir(), "no-such-conntrack"), 0)
	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestProcSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "nf_conntrack"), []byte(procDump), 0o644))

	snap, err := ProcSource{FS: procfs.FS{Root: root}}.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Flows, 3)

	_, err = ProcSource{FS: procfs.FS{Root: t.TempDir()}}.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewSource(t *testing.T) {
	s, err := NewSource(Options{})
	require.NoError(t, err)
	assert.IsType(t, &CommandSource{}, s)

	s, err = NewSource(Options{Kind: KindProcfs, Procfs: procfs.FS{Root: "/proc"}})
	require.NoError(t, err)
	assert.IsType(t, ProcSource{}, s)

	s, err = NewSource(Options{Kind: KindNetlink})
	require.NoError(t, err)
	assert.IsType(t, &NetlinkSource{}, s)

	_, err = NewSource(Options{Kind: "pcap"})
	assert.Error(t, err)
}
