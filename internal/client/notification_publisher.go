package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is the NATS subject prefix for damage workflow events.
const DefaultSubjectPrefix = "notifications.damage"

// Workflow event types.
const (
	EventDocumentCreated      = "document_created"
	EventDocumentChecked      = "document_checked"
	EventDocumentApproved     = "document_approved"
	EventDocumentAcknowledged = "document_acknowledged"
	EventDocumentIssued       = "document_issued"
	EventDocumentRejected     = "document_rejected"
	EventDocumentCancelled    = "document_cancelled"
	EventDocumentReturned     = "document_returned"
)

// publisher is the part of *nats.Conn the NotificationPublisher needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes damage workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g. notifications.damage.document_approved
//
// All publish operations are non-fatal. Errors are logged but never propagated
// to the caller, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	nats   publisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	DocumentID   string                 `json:"document_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	Status       string                 `json:"status"`
	ResourceType string                 `json:"resource_type,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Category     string                 `json:"category,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	var pub publisher
	if conn != nil {
		pub = conn
	}
	return newNotificationPublisher(pub, prefix, log)
}

func newNotificationPublisher(pub publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NotificationPublisher{nats: pub, prefix: prefix, log: log}
}

// Subject returns the subject an event type is published on.
func (p *NotificationPublisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

// PublishDocumentEvent publishes a damage workflow event to NATS.
func (p *NotificationPublisher) PublishDocumentEvent(ctx context.Context, event *NotificationEvent) {
	if p == nil || p.nats == nil {
		return
	}
	if len(event.Recipients) == 0 {
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}

	event.ResourceType = "damage_document"
	event.Category = "damage_approval"
	event.IsActionable = event.Status != "completed" && event.Status != "rejected" && event.Status != "cancelled"
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.Subject(event.EventType)
	if err := p.nats.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", event.DocumentID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}

// Connect dials NATS with reconnect handling that logs through log.
func Connect(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}
