package directory

import (
	"fmt"
	"os"
	"time"
)

// Store holds the peer and resource directories that flows are matched
// against. The two maps are only ever replaced together.
//
// Store is owned by the poll loop and is not safe for concurrent use.
type Store struct {
	peersPath     string
	resourcesPath string

	stat     func(string) (os.FileInfo, error)
	readFile func(string) ([]byte, error)

	loaded    bool
	watermark time.Time

	peers     map[string]Peer
	resources map[resourceKey]Resource
}

// ReloadResult describes a Reload call that did not fail.
type ReloadResult struct {
	// Changed is false when neither file was modified since the last
	// successful load and nothing was read.
	Changed   bool
	Peers     int
	Resources int
	// Skipped lists entries that were dropped during validation.
	Skipped []ItemError
}

func New(peersPath, resourcesPath string) *Store {
	return &Store{
		peersPath:     peersPath,
		resourcesPath: resourcesPath,
		stat:          os.Stat,
		readFile:      os.ReadFile,
		peers:         map[string]Peer{},
		resources:     map[resourceKey]Resource{},
	}
}

// Reload re-reads both files if either modification time is newer than the
// newest one seen at the last successful load.
//
// A reload is all-or-nothing: if either file is missing, unreadable or not
// valid JSON, an error is returned and both maps keep their previous
// contents. The watermark is left untouched too, so the next call retries.
func (s *Store) Reload() (ReloadResult, error) {
	pInfo, err := s.stat(s.peersPath)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("stat peers file: %w", err)
	}
	rInfo, err := s.stat(s.resourcesPath)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("stat resources file: %w", err)
	}

	pm, rm := pInfo.ModTime(), rInfo.ModTime()
	if s.loaded && !pm.After(s.watermark) && !rm.After(s.watermark) {
		return ReloadResult{Peers: len(s.peers), Resources: len(s.resources)}, nil
	}

	pData, err := s.readFile(s.peersPath)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("read peers file: %w", err)
	}
	rData, err := s.readFile(s.resourcesPath)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("read resources file: %w", err)
	}

	peers, pSkipped, err := parsePeers(s.peersPath, pData)
	if err != nil {
		return ReloadResult{}, err
	}
	resources, rSkipped, err := parseResources(s.resourcesPath, rData)
	if err != nil {
		return ReloadResult{}, err
	}

	s.peers, s.resources = peers, resources
	s.loaded = true
	s.watermark = pm
	if rm.After(pm) {
		s.watermark = rm
	}

	return ReloadResult{
		Changed:   true,
		Peers:     len(peers),
		Resources: len(resources),
		Skipped:   append(pSkipped, rSkipped...),
	}, nil
}

// Peer looks a peer up by its VPN address.
func (s *Store) Peer(addr string) (Peer, bool) {
	p, ok := s.peers[addr]
	return p, ok
}

// Resource looks a resource up by address and port.
func (s *Store) Resource(addr string, port uint16) (Resource, bool) {
	r, ok := s.resources[resourceKey{addr: addr, port: port}]
	return r, ok
}

// Counts returns the current directory sizes.
func (s *Store) Counts() (peers, resources int) {
	return len(s.peers), len(s.resources)
}
