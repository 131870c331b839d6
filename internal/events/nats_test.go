package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-session-monitor/internal/conntrack"
	"vpn-session-monitor/internal/session"
)

type msg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	sent    []msg
	err     error
	drained bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg{subj, data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func record() session.Record {
	return session.Record{
		Key:          session.Key{SrcAddr: "10.0.0.5", SrcPort: 51000, DstAddr: "10.1.0.2", DstPort: 443},
		Interface:    "wg0",
		PeerID:       json.RawMessage(`"p-1"`),
		PeerName:     "alice",
		PeerAddr:     "10.0.0.5",
		PeerPort:     51000,
		ResourceAddr: "10.1.0.2",
		ResourcePort: 443,
		Service:      "web",
		Protocol:     "tcp",
		Start:        t0,
		TotalBytes:   300,
		Original:     conntrack.Counters{Packets: 2, Bytes: 100},
		Reply:        conntrack.Counters{Packets: 3, Bytes: 200},
	}
}

func TestPublisherSubjects(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "")

	require.NoError(t, p.SessionStarted(record(), t0))
	require.NoError(t, p.SessionStopped(session.Stopped{Record: record(), Duration: 12500 * time.Millisecond}, t0.Add(15*time.Second)))

	require.Len(t, fc.sent, 2)
	assert.Equal(t, "vpn.sessions.start", fc.sent[0].subject)
	assert.Equal(t, "vpn.sessions.stop", fc.sent[1].subject)

	var start Event
	require.NoError(t, json.Unmarshal(fc.sent[0].data, &start))
	assert.Equal(t, "start", start.Type)
	assert.Equal(t, "10.0.0.5:51000", start.Source)
	assert.Equal(t, json.RawMessage(`"p-1"`), start.PeerID)
	assert.Equal(t, int64(0), start.DurationSec)

	var stop Event
	require.NoError(t, json.Unmarshal(fc.sent[1].data, &stop))
	assert.Equal(t, "stop", stop.Type)
	assert.Equal(t, "2024-05-01T10:00:15.000000Z", stop.Time)
	assert.Equal(t, int64(12), stop.DurationSec)
	assert.Equal(t, uint64(300), stop.Bytes)
}

func TestPublisherCustomSubjectAndErrors(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(fc, "corp.vpn")

	err := p.SessionStarted(record(), t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corp.vpn.start")

	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}
