package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"gatehouse.org/internal/auth"
)

// Publisher mirrors committed audit entries onto a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials url and returns a Publisher for subject.
func Connect(url, subject string, opts ...nats.Option) (*Publisher, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("events: subject is required")
	}
	opts = append([]nats.Option{
		nats.Name("gatehouse-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: nc, subject: subject}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// PublishAudit sends entry and waits for the server to acknowledge the flush.
func (p *Publisher) PublishAudit(ctx context.Context, entry auth.AuditEntry) error {
	if p == nil || p.conn == nil {
		return errors.New("events: nil publisher")
	}
	msg, err := auditMessage(p.subject, entry)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

type auditEnvelope struct {
	Type  string          `json:"type"`
	Entry auth.AuditEntry `json:"entry"`
}

func auditMessage(subject string, entry auth.AuditEntry) (*nats.Msg, error) {
	data, err := json.Marshal(auditEnvelope{Type: "audit", Entry: entry})
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject + "." + entry.Action)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, entry.ID)
	msg.Header.Set("Content-Type", "application/json")
	return msg, nil
}
