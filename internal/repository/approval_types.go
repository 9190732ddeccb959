package repository

import (
	"time"

	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// ── Row types for the damage approval workflow ───────────────────────────────

// ApprovalStep is one persisted ledger stage of a document.
type ApprovalStep struct {
	DocumentID  string
	Position    int
	UserType    string
	Label       string
	Status      string
	ActedAt     *time.Time
	ActorID     string
	ActorName   string
	ActorBranch string
	Comment     string
}

// ApprovalAuditEntry is one immutable record in the transition audit log.
type ApprovalAuditEntry struct {
	ID           string
	DocumentID   string
	Action       string // check | approve | acknowledge | issue | reject | cancel | back_to_previous | created
	PerformedBy  string
	Role         string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Comment      *string
	Metadata     map[string]interface{}
}

// ListFilter narrows document listings.
type ListFilter struct {
	Branch *string
	Status *string
	Limit  int
	Offset int
}

func stepFromRecord(documentID string, pos int, r workflow.ApprovalRecord) ApprovalStep {
	return ApprovalStep{
		DocumentID:  documentID,
		Position:    pos,
		UserType:    string(r.UserType),
		Label:       r.Label,
		Status:      r.Status,
		ActedAt:     r.ActedAt,
		ActorID:     r.ActorID,
		ActorName:   r.ActorName,
		ActorBranch: r.ActorBranch,
		Comment:     r.Comment,
	}
}

func (s ApprovalStep) record() workflow.ApprovalRecord {
	return workflow.ApprovalRecord{
		UserType:    workflow.RoleKind(s.UserType),
		Label:       s.Label,
		Status:      s.Status,
		ActedAt:     s.ActedAt,
		ActorID:     s.ActorID,
		ActorName:   s.ActorName,
		ActorBranch: s.ActorBranch,
		Comment:     s.Comment,
	}
}

func ledgerFromSteps(steps []ApprovalStep) workflow.Ledger {
	l := make(workflow.Ledger, len(steps))
	for i, s := range steps {
		l[i] = s.record()
	}
	return l
}
