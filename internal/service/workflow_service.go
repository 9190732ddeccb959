package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-damage-issues/internal/client"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/logger"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

const (
	defaultInboxLimit = 200
	inboxPageSize     = 100
)

// WorkflowService drives documents through the approval workflow: it loads
// the current document, asks the engine, persists the patch and reports it.
type WorkflowService struct {
	docs   DocumentStore
	audit  AuditStore
	engine *workflow.Engine
	events EventPublisher
	log    *logger.Logger
	now    func() time.Time
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	docs DocumentStore,
	audit AuditStore,
	engine *workflow.Engine,
	events EventPublisher,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		docs:   docs,
		audit:  audit,
		engine: engine,
		events: events,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ActionView is what a client needs to render the action buttons.
type ActionView struct {
	DocumentID string
	Status     workflow.DocumentStatus
	Role       workflow.RoleKind
	Action     workflow.ActionKind
	Actions    []workflow.ActionKind
	Version    int64
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetAvailableAction returns the actor's primary action on a document plus
// every other action they may take. It is advisory; ApplyAction re-checks.
func (s *WorkflowService) GetAvailableAction(ctx context.Context, actor workflow.Actor, documentID string) (*ActionView, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	actions := s.engine.AvailableActions(actor, *doc)
	if actions == nil {
		actions = []workflow.ActionKind{}
	}
	return &ActionView{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Role:       s.engine.ResolveRole(actor),
		Action:     s.engine.ComputeAvailableAction(actor, *doc),
		Actions:    actions,
		Version:    doc.Version,
	}, nil
}

// GetHistory returns the audit trail of a document, oldest first.
func (s *WorkflowService) GetHistory(ctx context.Context, documentID string) ([]*repository.ApprovalAuditEntry, error) {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.audit.GetByDocumentID(ctx, documentID)
}

// GetPending returns the open documents on which actor currently has a
// primary action. Branch-level roles only see their own branch.
func (s *WorkflowService) GetPending(ctx context.Context, actor workflow.Actor) ([]*workflow.Document, error) {
	role := s.engine.ResolveRole(actor)
	statuses := workflow.InboxStatuses(role)
	if len(statuses) == 0 {
		return []*workflow.Document{}, nil
	}

	branch := ""
	switch role {
	case workflow.RolePreparer, workflow.RoleChecker, workflow.RoleBranchManager:
		branch = actor.Branch
	}

	// candidates are read page by page so documents the actor cannot act on
	// never crowd out ones further down
	pending := make([]*workflow.Document, 0)
	for offset := 0; len(pending) < defaultInboxLimit; offset += inboxPageSize {
		candidates, err := s.docs.ListByStatuses(ctx, statuses, branch, inboxPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, doc := range candidates {
			if s.engine.ComputeAvailableAction(actor, *doc) != workflow.ActionNone {
				pending = append(pending, doc)
				if len(pending) == defaultInboxLimit {
					break
				}
			}
		}
		if len(candidates) < inboxPageSize {
			break
		}
	}
	return pending, nil
}

// ── Transitions ───────────────────────────────────────────────────────────────

// ApplyAction performs action on a document on behalf of actor. The document
// is always re-read and re-authorized; a concurrent change surfaces as a
// VERSION_CONFLICT error and is never retried here.
func (s *WorkflowService) ApplyAction(
	ctx context.Context,
	actor workflow.Actor,
	documentID, actionName, comment string,
) (*workflow.Document, error) {
	action, ok := workflow.ParseAction(actionName)
	if !ok || action == workflow.ActionNone {
		return nil, errors.InvalidInput("action", fmt.Sprintf("unknown action %q", actionName))
	}

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	patch, err := s.engine.ApplyAction(actor, *doc, action, comment)
	if err != nil {
		s.log.Info().
			Str("document_id", documentID).
			Str("actor_id", actor.ID).
			Str("action", string(action)).
			Str("status", string(doc.Status)).
			Msg("Workflow action denied")
		return nil, err
	}

	next := *doc
	next.Status = patch.Status
	next.Approvals = patch.Approvals
	next.UpdatedAt = s.now()

	if err := s.engine.CheckInvariants(next); err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Msg("Document invariants violated after transition")
	}

	if err := s.docs.SaveTransition(ctx, &next, doc.Version); err != nil {
		if errors.Is(err, errors.ErrCodeVersionConflict) {
			s.log.Info().
				Str("document_id", documentID).
				Int64("expected_version", doc.Version).
				Msg("Workflow action lost a concurrent update")
		}
		return nil, err
	}

	before, after := string(patch.From), string(patch.Status)
	var note *string
	if comment != "" {
		note = &comment
	}
	appendAudit(ctx, s.audit, s.log, &repository.ApprovalAuditEntry{
		DocumentID:   next.ID,
		Action:       string(action),
		PerformedBy:  actor.ID,
		Role:         string(patch.Role),
		StatusBefore: &before,
		StatusAfter:  &after,
		Comment:      note,
		Metadata: map[string]interface{}{
			"number":       next.Number,
			"total_amount": next.TotalAmount.String(),
			"actor_name":   actor.DisplayName,
			"version":      next.Version,
		},
	})

	s.events.PublishDocumentEvent(ctx, &client.NotificationEvent{
		EventType:  eventTypes[action],
		DocumentID: next.ID,
		ActorID:    actor.ID,
		Recipients: nextRecipients(s.engine, next),
		Status:     after,
		Payload:    eventPayload(next),
	})

	s.log.Info().
		Str("document_id", next.ID).
		Str("number", next.Number).
		Str("actor_id", actor.ID).
		Str("role", string(patch.Role)).
		Str("action", string(action)).
		Str("from", before).
		Str("to", after).
		Int64("version", next.Version).
		Msg("Workflow action applied")

	return &next, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

var eventTypes = map[workflow.ActionKind]string{
	workflow.ActionCheck:          client.EventDocumentChecked,
	workflow.ActionApprove:        client.EventDocumentApproved,
	workflow.ActionAcknowledge:    client.EventDocumentAcknowledged,
	workflow.ActionIssue:          client.EventDocumentIssued,
	workflow.ActionReject:         client.EventDocumentRejected,
	workflow.ActionCancel:         client.EventDocumentCancelled,
	workflow.ActionBackToPrevious: client.EventDocumentReturned,
}

// nextRecipients names the roles that can move doc forward from its current
// status. Closed documents notify the preparer.
func nextRecipients(engine *workflow.Engine, doc workflow.Document) []string {
	router := engine.Router()
	required := router.RequiresOperationStage(doc.TotalAmount)
	satisfied := router.OperationStageSatisfied(doc.Approvals, doc.TotalAmount)

	var roles []workflow.RoleKind
	switch doc.Status {
	case workflow.StatusOngoing:
		roles = []workflow.RoleKind{workflow.RoleChecker, workflow.RoleBranchManager}
	case workflow.StatusChecked:
		roles = []workflow.RoleKind{workflow.RoleBranchManager}
		if required && !satisfied {
			roles = append(roles, workflow.RoleOperationManager)
		}
	case workflow.StatusBMApproved:
		if required && !satisfied {
			roles = []workflow.RoleKind{workflow.RoleOperationManager}
		} else {
			roles = []workflow.RoleKind{workflow.RoleAccount}
		}
	case workflow.StatusOperationAcknowledged:
		roles = []workflow.RoleKind{workflow.RoleAccount}
	default:
		roles = []workflow.RoleKind{workflow.RolePreparer}
	}

	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func eventPayload(doc workflow.Document) map[string]interface{} {
	return map[string]interface{}{
		"number":         doc.Number,
		"branch":         doc.Branch,
		"requester_name": doc.RequesterName,
		"total_amount":   doc.TotalAmount.String(),
	}
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func appendAudit(ctx context.Context, audit AuditStore, log *logger.Logger, entry *repository.ApprovalAuditEntry) {
	if err := audit.Append(ctx, entry); err != nil {
		log.Warn().Err(err).
			Str("document_id", entry.DocumentID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
