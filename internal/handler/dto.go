package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/service"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// ── Requests ─────────────────────────────────────────────────────────────────

type createDocumentRequest struct {
	Branch        string            `json:"branch"`
	RequesterName string            `json:"requester_name"`
	Items         []lineItemRequest `json:"items"`
}

type lineItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (r *createDocumentRequest) toService() *service.CreateDocumentRequest {
	out := &service.CreateDocumentRequest{
		Branch:        r.Branch,
		RequesterName: r.RequesterName,
		Items:         make([]service.LineItemRequest, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		out.Items = append(out.Items, service.LineItemRequest{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return out
}

type actionRequest struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// ── Responses ────────────────────────────────────────────────────────────────

type documentResponse struct {
	ID            string                    `json:"id"`
	Number        string                    `json:"number"`
	Status        workflow.DocumentStatus   `json:"status"`
	TotalAmount   decimal.Decimal           `json:"total_amount"`
	Branch        string                    `json:"branch"`
	RequesterName string                    `json:"requester_name"`
	Version       int64                     `json:"version"`
	Items         []workflow.LineItem       `json:"items"`
	Approvals     []workflow.ApprovalRecord `json:"approvals"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func toDocumentResponse(d *workflow.Document) documentResponse {
	items := d.Items
	if items == nil {
		items = []workflow.LineItem{}
	}
	approvals := []workflow.ApprovalRecord(d.Approvals)
	if approvals == nil {
		approvals = []workflow.ApprovalRecord{}
	}
	return documentResponse{
		ID:            d.ID,
		Number:        d.Number,
		Status:        d.Status,
		TotalAmount:   d.TotalAmount,
		Branch:        d.Branch,
		RequesterName: d.RequesterName,
		Version:       d.Version,
		Items:         items,
		Approvals:     approvals,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func toDocumentResponses(docs []*workflow.Document) []documentResponse {
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return out
}

type actionResponse struct {
	DocumentID string                  `json:"document_id"`
	Status     workflow.DocumentStatus `json:"status"`
	Role       workflow.RoleKind       `json:"role"`
	Action     workflow.ActionKind     `json:"action"`
	Actions    []workflow.ActionKind   `json:"actions"`
	Version    int64                   `json:"version"`
}

func toActionResponse(v *service.ActionView) actionResponse {
	actions := v.Actions
	if actions == nil {
		actions = []workflow.ActionKind{}
	}
	return actionResponse{
		DocumentID: v.DocumentID,
		Status:     v.Status,
		Role:       v.Role,
		Action:     v.Action,
		Actions:    actions,
		Version:    v.Version,
	}
}

type auditEntryResponse struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	Role         string                 `json:"role"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Comment      *string                `json:"comment,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func toAuditResponses(entries []*repository.ApprovalAuditEntry) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:           e.ID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			Role:         e.Role,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			Comment:      e.Comment,
			Metadata:     e.Metadata,
		})
	}
	return out
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
