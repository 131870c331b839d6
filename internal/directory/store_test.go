package directory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peersJSON = `{
  "wg0": [
    {"IP_VPN": "10.0.0.5", "id": 1, "name": "A"},
    {"IP_VPN": "10.0.0.6", "id": "peer-b", "name": "B"}
  ],
  "wg1": [
    {"IP_VPN": "10.8.0.2", "id": 7, "name": "C"}
  ]
}`

const resourcesJSON = `{
  "resources": [
    {"IP_VPN": "10.1.0.2", "port": 443, "name": "web"},
    {"IP_VPN": "10.1.0.3", "port": "53", "name": "dns"}
  ]
}`

type fixture struct {
	t         *testing.T
	peers     string
	resources string
	mtime     time.Time
	store     *Store
	reads     int
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{
		t:         t,
		peers:     filepath.Join(dir, "peers.json"),
		resources: filepath.Join(dir, "resources.json"),
		mtime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.write(f.peers, peersJSON)
	f.write(f.resources, resourcesJSON)

	f.store = New(f.peers, f.resources)
	f.store.readFile = func(name string) ([]byte, error) {
		f.reads++
		return os.ReadFile(name)
	}
	return f
}

// write replaces path and bumps its mtime past every earlier write.
func (f *fixture) write(path, content string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	f.mtime = f.mtime.Add(time.Second)
	require.NoError(f.t, os.Chtimes(path, f.mtime, f.mtime))
}

type lookups struct {
	A, B, C       Peer
	okA, okB, okC bool
	web, dns      Resource
	okWeb, okDNS  bool
}

func snapshot(s *Store) lookups {
	var l lookups
	l.A, l.okA = s.Peer("10.0.0.5")
	l.B, l.okB = s.Peer("10.0.0.6")
	l.C, l.okC = s.Peer("10.8.0.2")
	l.web, l.okWeb = s.Resource("10.1.0.2", 443)
	l.dns, l.okDNS = s.Resource("10.1.0.3", 53)
	return l
}

func TestReloadInitial(t *testing.T) {
	f := newFixture(t)

	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 3, res.Peers)
	assert.Equal(t, 2, res.Resources)
	assert.Empty(t, res.Skipped)

	p, ok := f.store.Peer("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, Peer{ID: json.RawMessage(`1`), Name: "A", Interface: "wg0", Address: "10.0.0.5"}, p)

	p, ok = f.store.Peer("10.8.0.2")
	require.True(t, ok)
	assert.Equal(t, "wg1", p.Interface)
	assert.JSONEq(t, `7`, string(p.ID))

	r, ok := f.store.Resource("10.1.0.3", 53)
	require.True(t, ok)
	assert.Equal(t, "dns", r.Name)

	_, ok = f.store.Resource("10.1.0.2", 80)
	assert.False(t, ok)
	_, ok = f.store.Peer("10.0.0.99")
	assert.False(t, ok)

	peers, resources := f.store.Counts()
	assert.Equal(t, 3, peers)
	assert.Equal(t, 2, resources)
}

func TestReloadUnchangedIsNoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Reload()
	require.NoError(t, err)
	require.Equal(t, 2, f.reads)

	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 3, res.Peers)
	assert.Equal(t, 2, f.reads)
}

func TestReloadEitherFileReloadsBoth(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Reload()
	require.NoError(t, err)

	f.write(f.resources, `{"resources": [{"IP_VPN": "10.1.0.9", "port": 22, "name": "ssh"}]}`)
	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 4, f.reads)

	_, ok := f.store.Resource("10.1.0.2", 443)
	assert.False(t, ok)
	r, ok := f.store.Resource("10.1.0.9", 22)
	require.True(t, ok)
	assert.Equal(t, "ssh", r.Name)
}

func TestFailedReloadKeepsLastGood(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Reload()
	require.NoError(t, err)
	before := snapshot(f.store)

	// A valid new resources file paired with a broken peers file must not be
	// half-applied.
	f.write(f.resources, `{"resources": []}`)
	f.write(f.peers, `{"wg0": [`)

	_, err = f.store.Reload()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, before, snapshot(f.store))

	// The watermark did not move, so the next cycle retries and succeeds
	// once the file is fixed.
	f.write(f.peers, peersJSON)
	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, res.Resources)
}

func TestReloadMissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Reload()
	require.NoError(t, err)
	before := snapshot(f.store)

	require.NoError(t, os.Remove(f.resources))
	_, err = f.store.Reload()
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, before, snapshot(f.store))
}

func TestReloadNeverLoaded(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "peers.json"), filepath.Join(dir, "resources.json"))

	_, err := s.Reload()
	require.Error(t, err)
	_, ok := s.Peer("10.0.0.5")
	assert.False(t, ok)
}

func TestReloadSkipsMalformedItems(t *testing.T) {
	f := newFixture(t)
	f.write(f.peers, `{
  "wg0": [
    {"IP_VPN": "10.0.0.5", "id": 1, "name": "A"},
    {"id": 2, "name": "no address"},
    {"IP_VPN": "not-an-ip", "id": 3, "name": "bad"},
    {"IP_VPN": "10.0.0.7", "name": "no id"},
    {"IP_VPN": "10.0.0.8", "id": null, "name": "null id"},
    {"IP_VPN": "10.0.0.9", "id": 9},
    "nonsense"
  ],
  "wg1": {"IP_VPN": "10.8.0.2"},
  "wg2": [
    {"IP_VPN": "10.0.0.5", "id": 10, "name": "A2"}
  ]
}`)
	f.write(f.resources, `{
  "resources": [
    {"IP_VPN": "10.1.0.2", "port": 443, "name": "web"},
    {"IP_VPN": "10.1.0.2", "port": 0, "name": "zero"},
    {"IP_VPN": "10.1.0.2", "port": "https", "name": "named"},
    {"IP_VPN": "10.1.0.2", "port": 70000, "name": "big"},
    {"port": 22, "name": "no address"},
    {"IP_VPN": "10.1.0.4", "port": 22}
  ]
}`)

	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Peers)
	assert.Equal(t, 1, res.Resources)
	// 6 bad peers + 1 bad interface + 1 duplicate + 5 bad resources.
	assert.Len(t, res.Skipped, 13)

	// wg2 sorts after wg0, so its entry replaces the earlier one.
	p, ok := f.store.Peer("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "A2", p.Name)
	assert.Equal(t, "wg2", p.Interface)
}

func TestReloadRejectsWrongTopLevel(t *testing.T) {
	f := newFixture(t)
	f.write(f.peers, `[1, 2, 3]`)
	_, err := f.store.Reload()
	assert.ErrorIs(t, err, ErrInvalid)

	f.write(f.peers, `null`)
	_, err = f.store.Reload()
	assert.ErrorIs(t, err, ErrInvalid)

	f.write(f.peers, peersJSON)
	f.write(f.resources, `{"resources": "nope"}`)
	_, err = f.store.Reload()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestResourcesMissingKeyIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.write(f.resources, `{}`)

	res, err := f.store.Reload()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Resources)
}

func TestItemError(t *testing.T) {
	e := ItemError{File: "peers.json", Item: "wg0[1]", Reason: "missing id"}
	assert.Equal(t, "peers.json: wg0[1]: missing id", e.Error())
}
