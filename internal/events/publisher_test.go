package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"

	"gatehouse.org/internal/auth"
)

func TestAuditMessageCarriesEntry(t *testing.T) {
	entry := auth.AuditEntry{ID: "log-1", Action: "user.ban", ActorEmail: "a@example.com", Details: json.RawMessage(`{"duration":"Indefinite"}`)}
	msg, err := auditMessage("gatehouse.audit", entry)
	if err != nil {
		t.Fatalf("auditMessage: %v", err)
	}
	if msg.Subject != "gatehouse.audit.user.ban" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "log-1" {
		t.Fatalf("expected dedupe header, got %v", msg.Header)
	}
	var env struct {
		Type  string          `json:"type"`
		Entry auth.AuditEntry `json:"entry"`
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if env.Type != "audit" || env.Entry.ActorEmail != "a@example.com" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestNilPublisherErrors(t *testing.T) {
	var p *Publisher
	if err := p.PublishAudit(context.Background(), auth.AuditEntry{}); err == nil {
		t.Fatalf("expected error")
	}
	p.Close()
}

func TestConnectRequiresSubject(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:4222", " "); err == nil {
		t.Fatalf("expected error")
	}
}
