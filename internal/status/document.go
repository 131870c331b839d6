package status

import (
	"encoding/json"
	"time"

	"vpn-session-monitor/internal/session"
)

// TimeLayout is ISO-8601 with microseconds and a UTC offset.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Direction is a packets/bytes pair. direction1 is peer -> resource,
// direction2 resource -> peer.
type Direction struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Session is one entry of Document.Sessions.
type Session struct {
	Interface   string          `json:"interface"`
	PeerID      json.RawMessage `json:"peer_id"`
	PeerName    string          `json:"peer_name"`
	Source      string          `json:"source"`
	Resource    string          `json:"resource_ip_port"`
	Service     string          `json:"service"`
	Protocol    string          `json:"protocol"`
	StartTime   string          `json:"start_time"`
	DurationSec int64           `json:"duration_sec"`
	Bytes       uint64          `json:"bytes"`
	Direction1  Direction       `json:"direction1"`
	Direction2  Direction       `json:"direction2"`
}

// Document is the published status artifact.
type Document struct {
	LastUpdated            string    `json:"last_updated"`
	ActiveConnectionsCount int       `json:"active_connections_count"`
	Sessions               []Session `json:"sessions"`
}

// Build renders records as of now. The count always equals len(records).
func Build(records []session.Record, now time.Time) Document {
	doc := Document{
		LastUpdated:            now.Format(TimeLayout),
		ActiveConnectionsCount: len(records),
		Sessions:               make([]Session, 0, len(records)),
	}

	for _, r := range records {
		doc.Sessions = append(doc.Sessions, FromRecord(r, now))
	}

	return doc
}

// FromRecord renders one session as of now.
func FromRecord(r session.Record, now time.Time) Session {
	id := r.PeerID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return Session{
		Interface:   r.Interface,
		PeerID:      id,
		PeerName:    r.PeerName,
		Source:      r.Source(),
		Resource:    r.Target(),
		Service:     r.Service,
		Protocol:    r.Protocol,
		StartTime:   r.Start.Format(TimeLayout),
		DurationSec: int64(r.Age(now) / time.Second),
		Bytes:       r.TotalBytes,
		Direction1:  Direction{Packets: r.Original.Packets, Bytes: r.Original.Bytes},
		Direction2:  Direction{Packets: r.Reply.Packets, Bytes: r.Reply.Bytes},
	}
}
