package session

import (
	"cmp"
	"encoding/json"
	"net"
	"slices"
	"strconv"
	"time"

	"vpn-session-monitor/internal/conntrack"
)

// Key identifies a session. The protocol is deliberately not part of it, so
// a tcp and a udp flow sharing one 4-tuple land on the same session.
type Key struct {
	SrcAddr string
	SrcPort uint16
	DstAddr string
	DstPort uint16
}

func KeyOf(f conntrack.Flow) Key {
	return Key{SrcAddr: f.SrcAddr, SrcPort: f.SrcPort, DstAddr: f.DstAddr, DstPort: f.DstPort}
}

func compareKeys(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.SrcAddr, b.SrcAddr),
		cmp.Compare(a.SrcPort, b.SrcPort),
		cmp.Compare(a.DstAddr, b.DstAddr),
		cmp.Compare(a.DstPort, b.DstPort),
	)
}

// Record is the accumulated state of one live session.
type Record struct {
	Key Key

	Interface string
	PeerID    json.RawMessage
	PeerName  string
	PeerAddr  string
	PeerPort  uint16

	ResourceAddr string
	ResourcePort uint16
	Service      string
	Protocol     string

	// Start is set when the session is first seen and never changes.
	Start time.Time

	// TotalBytes always equals Original.Bytes + Reply.Bytes.
	TotalBytes uint64
	Original   conntrack.Counters
	Reply      conntrack.Counters
}

// Source is the peer side as "address:port".
func (r Record) Source() string {
	return net.JoinHostPort(r.PeerAddr, strconv.Itoa(int(r.PeerPort)))
}

// Target is the resource side as "address:port".
func (r Record) Target() string {
	return net.JoinHostPort(r.ResourceAddr, strconv.Itoa(int(r.ResourcePort)))
}

// Age is the time since Start, never negative.
func (r Record) Age(now time.Time) time.Duration {
	d := now.Sub(r.Start)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Record) setCounters(f conntrack.Flow) {
	r.Original = f.Original
	r.Reply = f.Reply
	r.TotalBytes = f.TotalBytes()
}

func newRecord(f conntrack.Flow, m Match, now time.Time) *Record {
	r := &Record{
		Key:          KeyOf(f),
		Interface:    m.Peer.Interface,
		PeerID:       m.Peer.ID,
		PeerName:     m.Peer.Name,
		PeerAddr:     f.SrcAddr,
		PeerPort:     f.SrcPort,
		ResourceAddr: f.DstAddr,
		ResourcePort: f.DstPort,
		Service:      m.Resource.Name,
		Protocol:     f.Protocol,
		Start:        now,
	}
	r.setCounters(f)
	return r
}

// Stopped is a session removed because its flow left the conntrack table.
type Stopped struct {
	Record
	// Duration is the stop cycle's time minus Start.
	Duration time.Duration
}

func sortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		return cmp.Or(a.Start.Compare(b.Start), compareKeys(a.Key, b.Key))
	})
}
