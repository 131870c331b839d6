package conntrack

import (
	"net"
	"strconv"
)

// This package turns a dump of the kernel connection-tracking table into
// Flow values. It knows nothing about peers, resources or sessions.
//
// Keep parsing tolerant to missing counters: with nf_conntrack_acct=0 the
// kernel omits packets/bytes, and that must read as zero, not as an error.

// Counters describes packets/bytes in one direction. Original is the
// direction of the first packet (peer -> resource for VPN traffic), Reply
// the way back.
type Counters struct {
	Packets uint64
	Bytes   uint64
}

// Flow is one tracked connection in a snapshot.
type Flow struct {
	Family   string // ipv4, ipv6
	Protocol string // tcp, udp, icmp, ...

	SrcAddr string
	SrcPort uint16
	DstAddr string
	DstPort uint16

	Original Counters
	Reply    Counters
}

// TotalBytes is the byte volume in both directions.
func (f Flow) TotalBytes() uint64 {
	return f.Original.Bytes + f.Reply.Bytes
}

func (f Flow) String() string {
	return f.Protocol + " " + net.JoinHostPort(f.SrcAddr, strconv.Itoa(int(f.SrcPort))) +
		" -> " + net.JoinHostPort(f.DstAddr, strconv.Itoa(int(f.DstPort)))
}

// Snapshot is the parsed table for one poll.
type Snapshot struct {
	Flows []Flow
	// Skipped counts entries dropped because a required field was missing
	// or unparsable.
	Skipped int
}

// Seen is the number of entries present in the dump, parsed or not.
func (s Snapshot) Seen() int {
	return len(s.Flows) + s.Skipped
}

// portProtocol reports whether proto carries L4 ports.
func portProtocol(proto string) bool {
	switch proto {
	case "tcp", "udp", "udplite", "sctp", "dccp":
		return true
	}
	return false
}

func parseUint64(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePort(s string) (uint16, bool) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}
