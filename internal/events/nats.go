package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"vpn-session-monitor/internal/session"
	"vpn-session-monitor/internal/status"
)

const DefaultSubject = "vpn.sessions"

// Event is the payload published on <subject>.start and <subject>.stop.
type Event struct {
	Type string `json:"type"`
	Time string `json:"time"`
	status.Session
}

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher sends session transitions to a NATS subject.
type Publisher struct {
	nc      conn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("vpn-session-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(nc conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// SessionStarted publishes a start event for r.
func (p *Publisher) SessionStarted(r session.Record, now time.Time) error {
	return p.publish(p.subject+".start", Event{
		Type:    "start",
		Time:    now.Format(status.TimeLayout),
		Session: status.FromRecord(r, now),
	})
}

// SessionStopped publishes a stop event for s. duration_sec is the final
// session length.
func (p *Publisher) SessionStopped(s session.Stopped, now time.Time) error {
	return p.publish(p.subject+".stop", Event{
		Type:    "stop",
		Time:    now.Format(status.TimeLayout),
		Session: status.FromRecord(s.Record, s.Start.Add(s.Duration)),
	})
}

func (p *Publisher) publish(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
