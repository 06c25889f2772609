// Package audit publishes engine event notifications to an optional NATS
// subject; the engine publishes one event type, "join". Grounded on the
// teacher's internal/server/nats_subscriber.go JSON-over-NATS idiom,
// turned the other direction: the engine is the publisher here, not a
// subscriber.
package audit

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const defaultSubject = "floranet.audit"

// NATSPublisher publishes engine.AuditPublisher events to NATS. The
// zero value is not usable; construct with NewNATSPublisher.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher dials url and returns a publisher for subject (or
// the default subject, if empty).
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = defaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

type event struct {
	Type   string                 `json:"type"`
	Time   time.Time              `json:"time"`
	Fields map[string]interface{} `json:"fields"`
}

// Publish implements engine.AuditPublisher. Failures are logged and
// dropped, per §7 — a broken audit stream must never affect uplink
// processing.
func (p *NATSPublisher) Publish(eventType string, fields map[string]interface{}) {
	data, err := json.Marshal(event{Type: eventType, Time: time.Now(), Fields: fields})
	if err != nil {
		log.Error().Err(err).Msg("audit: marshal event failed")
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		log.Error().Err(err).Msg("audit: publish failed")
	}
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}
