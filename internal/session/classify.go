package session

import (
	"vpn-session-monitor/internal/conntrack"
	"vpn-session-monitor/internal/directory"
)

// Directory is the read side of the peer/resource directories.
type Directory interface {
	Peer(addr string) (directory.Peer, bool)
	Resource(addr string, port uint16) (directory.Resource, bool)
}

// Verdict is the outcome of classifying one flow.
type Verdict int

const (
	Matched Verdict = iota
	UnsupportedProtocol
	UnknownPeer
	UnknownResource
)

func (v Verdict) String() string {
	switch v {
	case Matched:
		return "matched"
	case UnsupportedProtocol:
		return "unsupported_protocol"
	case UnknownPeer:
		return "unknown_peer"
	case UnknownResource:
		return "unknown_resource"
	default:
		return "unknown"
	}
}

// Match is the tagged result of Classify. Peer and Resource are set only
// when Verdict is Matched.
type Match struct {
	Verdict  Verdict
	Peer     directory.Peer
	Resource directory.Resource
}

func (m Match) Matched() bool {
	return m.Verdict == Matched
}

// SupportedProtocol reports whether sessions are tracked for proto.
func SupportedProtocol(proto string) bool {
	return proto == "tcp" || proto == "udp"
}

// Classify decides whether f is VPN traffic from a known peer to a known
// resource. Checks run in order: protocol, peer by source address,
// resource by destination address and port.
func Classify(f conntrack.Flow, dir Directory) Match {
	if !SupportedProtocol(f.Protocol) {
		return Match{Verdict: UnsupportedProtocol}
	}
	peer, ok := dir.Peer(f.SrcAddr)
	if !ok {
		return Match{Verdict: UnknownPeer}
	}
	res, ok := dir.Resource(f.DstAddr, f.DstPort)
	if !ok {
		return Match{Verdict: UnknownResource}
	}
	return Match{Verdict: Matched, Peer: peer, Resource: res}
}
