package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-damage-issues/internal/client"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/logger"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DocumentService handles damage document creation and reads
type DocumentService struct {
	docs   DocumentStore
	audit  AuditStore
	engine *workflow.Engine
	events EventPublisher
	log    *logger.Logger
	newID  func() string
}

// NewDocumentService creates a new document service
func NewDocumentService(
	docs DocumentStore,
	audit AuditStore,
	engine *workflow.Engine,
	events EventPublisher,
	log *logger.Logger,
) *DocumentService {
	return &DocumentService{
		docs:   docs,
		audit:  audit,
		engine: engine,
		events: events,
		log:    log,
		newID:  uuid.NewString,
	}
}

// CreateDocumentRequest represents a create damage document request
type CreateDocumentRequest struct {
	Branch        string
	RequesterName string
	Items         []LineItemRequest
}

// LineItemRequest represents one damaged item
type LineItemRequest struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateDocument validates the request and stores a new document in status
// ongoing, prepared by actor.
func (s *DocumentService) CreateDocument(ctx context.Context, actor workflow.Actor, req *CreateDocumentRequest) (*workflow.Document, error) {
	if actor.ID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor identity is required")
	}
	if len(req.Items) < 1 {
		return nil, errors.InvalidInput("items", "document must have at least 1 item")
	}

	items := make([]workflow.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Description) == "" {
			return nil, errors.InvalidInput(field+".description", "description is required")
		}
		if !it.Quantity.IsPositive() {
			return nil, errors.InvalidInput(field+".quantity", "quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return nil, errors.InvalidInput(field+".unit_price", "unit price cannot be negative")
		}
		if !it.Quantity.Equal(it.Quantity.Round(workflow.QuantityScale)) {
			return nil, errors.InvalidInput(field+".quantity", fmt.Sprintf("quantity allows at most %d decimal places", workflow.QuantityScale))
		}
		if !it.UnitPrice.Equal(it.UnitPrice.Round(workflow.AmountScale)) {
			return nil, errors.InvalidInput(field+".unit_price", fmt.Sprintf("unit price allows at most %d decimal places", workflow.AmountScale))
		}
		items = append(items, workflow.LineItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	doc := s.engine.NewDocument(actor, workflow.Document{
		ID:            s.newID(),
		Branch:        strings.TrimSpace(req.Branch),
		RequesterName: strings.TrimSpace(req.RequesterName),
		Items:         items,
	})
	doc.Number = documentNumber(doc)

	if doc.Branch == "" {
		return nil, errors.InvalidInput("branch", "branch is required")
	}

	if err := s.docs.Create(ctx, &doc); err != nil {
		return nil, err
	}

	after := string(doc.Status)
	appendAudit(ctx, s.audit, s.log, &repository.ApprovalAuditEntry{
		DocumentID:  doc.ID,
		Action:      "created",
		PerformedBy: actor.ID,
		Role:        string(s.engine.ResolveRole(actor)),
		StatusAfter: &after,
		Metadata: map[string]interface{}{
			"number":       doc.Number,
			"total_amount": doc.TotalAmount.String(),
			"item_count":   len(doc.Items),
		},
	})

	s.events.PublishDocumentEvent(ctx, &client.NotificationEvent{
		EventType:  client.EventDocumentCreated,
		DocumentID: doc.ID,
		ActorID:    actor.ID,
		Recipients: nextRecipients(s.engine, doc),
		Status:     string(doc.Status),
		Payload:    eventPayload(doc),
	})

	s.log.Info().
		Str("document_id", doc.ID).
		Str("number", doc.Number).
		Str("branch", doc.Branch).
		Str("total_amount", doc.TotalAmount.String()).
		Str("operation_threshold", s.engine.Router().Threshold().String()).
		Bool("operation_stage", s.engine.Router().RequiresOperationStage(doc.TotalAmount)).
		Int("item_count", len(doc.Items)).
		Msg("Damage document created")

	return &doc, nil
}

// GetDocument retrieves a document by ID
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*workflow.Document, error) {
	if id == "" {
		return nil, errors.InvalidInput("id", "document id is required")
	}
	return s.docs.GetByID(ctx, id)
}

// ListDocuments lists document headers with filtering and pagination
func (s *DocumentService) ListDocuments(ctx context.Context, branch, status *string, page, pageSize int) ([]*workflow.Document, int64, error) {
	if status != nil && !workflow.DocumentStatus(*status).Valid() {
		return nil, 0, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", *status))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return s.docs.List(ctx, repository.ListFilter{
		Branch: branch,
		Status: status,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
}

func documentNumber(doc workflow.Document) string {
	suffix := strings.ToUpper(strings.ReplaceAll(doc.ID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("DMG-%s-%s", doc.CreatedAt.Format("20060102"), suffix)
}
