package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalid is wrapped by every error caused by a directory file's content
// (as opposed to its absence or unreadability).
var ErrInvalid = errors.New("invalid directory file")

// Peer is a remote VPN party, identified by its tunnel address.
type Peer struct {
	// ID is kept as the raw JSON value from the peers file; it may be a
	// number or a string and is reported back verbatim.
	ID        json.RawMessage
	Name      string
	Interface string
	Address   string
}

// Resource is an internal service reachable through the VPN.
type Resource struct {
	Name    string
	Address string
	Port    uint16
}

type resourceKey struct {
	addr string
	port uint16
}

// ItemError describes one directory entry that was skipped.
type ItemError struct {
	File   string
	Item   string
	Reason string
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.File, e.Item, e.Reason)
}

type peerItem struct {
	Address *string         `json:"IP_VPN"`
	ID      json.RawMessage `json:"id"`
	Name    *string         `json:"name"`
}

type resourcesFile struct {
	Resources []json.RawMessage `json:"resources"`
}

type resourceItem struct {
	Address *string         `json:"IP_VPN"`
	Port    json.RawMessage `json:"port"`
	Name    *string         `json:"name"`
}

// parsePeers decodes `{"<interface>": [{"IP_VPN", "id", "name"}, ...]}`.
// Interfaces are visited in name order so that a duplicated address
// resolves the same way on every load (the later interface wins).
func parsePeers(file string, data []byte) (map[string]Peer, []ItemError, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalid, file, err)
	}
	if top == nil {
		return nil, nil, fmt.Errorf("%w: %s: top level must be an object", ErrInvalid, file)
	}

	ifaces := make([]string, 0, len(top))
	for iface := range top {
		ifaces = append(ifaces, iface)
	}
	sort.Strings(ifaces)

	peers := make(map[string]Peer)
	var skipped []ItemError
	for _, iface := range ifaces {
		var items []json.RawMessage
		if err := json.Unmarshal(top[iface], &items); err != nil {
			skipped = append(skipped, ItemError{File: file, Item: iface, Reason: "peer list is not an array"})
			continue
		}

		for i, raw := range items {
			where := iface + "[" + strconv.Itoa(i) + "]"
			p, reason := decodePeer(raw, iface)
			if reason != "" {
				skipped = append(skipped, ItemError{File: file, Item: where, Reason: reason})
				continue
			}
			if prev, dup := peers[p.Address]; dup {
				skipped = append(skipped, ItemError{
					File:   file,
					Item:   where,
					Reason: fmt.Sprintf("address %s already used by %s/%s, replacing it", p.Address, prev.Interface, prev.Name),
				})
			}
			peers[p.Address] = p
		}
	}

	return peers, skipped, nil
}

func decodePeer(raw json.RawMessage, iface string) (Peer, string) {
	var it peerItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return Peer{}, "not an object"
	}
	addr, reason := parseAddr(it.Address)
	if reason != "" {
		return Peer{}, reason
	}
	id := bytes.TrimSpace(it.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return Peer{}, "missing id"
	}
	if it.Name == nil {
		return Peer{}, "missing name"
	}
	return Peer{
		ID:        append(json.RawMessage(nil), id...),
		Name:      *it.Name,
		Interface: iface,
		Address:   addr,
	}, ""
}

// parseResources decodes `{"resources": [{"IP_VPN", "port", "name"}, ...]}`.
// A missing "resources" key yields an empty directory.
func parseResources(file string, data []byte) (map[resourceKey]Resource, []ItemError, error) {
	var top resourcesFile
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalid, file, err)
	}

	resources := make(map[resourceKey]Resource)
	var skipped []ItemError
	for i, raw := range top.Resources {
		where := "resources[" + strconv.Itoa(i) + "]"
		r, reason := decodeResource(raw)
		if reason != "" {
			skipped = append(skipped, ItemError{File: file, Item: where, Reason: reason})
			continue
		}
		resources[resourceKey{addr: r.Address, port: r.Port}] = r
	}

	return resources, skipped, nil
}

func decodeResource(raw json.RawMessage) (Resource, string) {
	var it resourceItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return Resource{}, "not an object"
	}
	addr, reason := parseAddr(it.Address)
	if reason != "" {
		return Resource{}, reason
	}
	port, reason := parsePort(it.Port)
	if reason != "" {
		return Resource{}, reason
	}
	if it.Name == nil {
		return Resource{}, "missing name"
	}
	return Resource{Name: *it.Name, Address: addr, Port: port}, ""
}

func parseAddr(s *string) (string, string) {
	if s == nil {
		return "", "missing IP_VPN"
	}
	a, err := netip.ParseAddr(strings.TrimSpace(*s))
	if err != nil {
		return "", fmt.Sprintf("invalid IP_VPN %q", *s)
	}
	return a.Unmap().String(), ""
}

// parsePort accepts a JSON number or a numeric string.
func parsePort(raw json.RawMessage) (uint16, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, "missing port"
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Sprintf("invalid port %s", raw)
		}
		s = strings.TrimSpace(s)
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Sprintf("invalid port %s", raw)
	}
	return uint16(n), ""
}
