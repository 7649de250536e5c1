// Package alerts fans security-flagged audit events out to an external
// broker so monitoring systems can react without polling the audit table.
// Publishing is best-effort: a broker failure never blocks the operation
// that produced the event.
package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jdauth/apiserver/types"
)

// Backend defines the broker-agnostic publish operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher wraps a backend with the security-event channel baked in.
type Publisher struct {
	backend Backend
	channel string
}

// NewPublisher constructs a Publisher sending to the named channel.
func NewPublisher(backend Backend, channel string) *Publisher {
	return &Publisher{backend: backend, channel: channel}
}

// PublishEvent serializes the audit event and publishes it. The returned id
// is broker-assigned.
func (p *Publisher) PublishEvent(ctx context.Context, event types.AuditEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	attrs := map[string]string{
		"action":   event.Action,
		"severity": event.Severity,
		"flag":     event.SecurityFlag,
		"emitted":  time.Now().UTC().Format(time.RFC3339),
	}
	return p.backend.Publish(ctx, p.channel, data, attrs)
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	return p.backend.Close()
}
