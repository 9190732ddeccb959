package service

import (
	"context"

	"github.com/pesio-ai/be-damage-issues/internal/client"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// DocumentStore persists damage documents and their ledgers.
type DocumentStore interface {
	Create(ctx context.Context, doc *workflow.Document) error
	GetByID(ctx context.Context, id string) (*workflow.Document, error)
	List(ctx context.Context, f repository.ListFilter) ([]*workflow.Document, int64, error)
	ListByStatuses(ctx context.Context, statuses []workflow.DocumentStatus, branch string, limit, offset int) ([]*workflow.Document, error)
	SaveTransition(ctx context.Context, doc *workflow.Document, expectedVersion int64) error
}

// AuditStore appends and reads the transition audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.ApprovalAuditEntry) error
	GetByDocumentID(ctx context.Context, documentID string) ([]*repository.ApprovalAuditEntry, error)
}

// EventPublisher delivers workflow notifications. Implementations must not fail
// the caller.
type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, event *client.NotificationEvent)
}
