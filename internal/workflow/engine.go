package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-damage-issues/internal/errors"
)

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the operation manager threshold.
func WithThreshold(threshold decimal.Decimal) Option {
	return func(e *Engine) { e.router = NewThresholdRouter(threshold) }
}

// WithClock sets the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for self-healing warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine ties the resolver, router, authorizer and ledger together. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	resolver   *RoleResolver
	router     ThresholdRouter
	authorizer Authorizer
	now        func() time.Time
	log        zerolog.Logger
}

// NewEngine creates an Engine with the default threshold.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		resolver: NewRoleResolver(),
		router:   NewThresholdRouter(DefaultOperationThreshold),
		now:      func() time.Time { return time.Now().UTC() },
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Router exposes the threshold router.
func (e *Engine) Router() ThresholdRouter {
	return e.router
}

// ResolveRole returns the canonical role of actor.
func (e *Engine) ResolveRole(actor Actor) RoleKind {
	return e.resolver.Resolve(actor)
}

// ComputeAvailableAction returns the one action actor may take on doc, or
// ActionNone. It is advisory; ApplyAction re-checks.
func (e *Engine) ComputeAvailableAction(actor Actor, doc Document) ActionKind {
	role := e.resolver.Resolve(actor)
	l, _ := e.router.EnsureOperationStage(doc.Approvals, doc)
	return e.authorizer.Authorize(role, DeriveFacts(e.router, actor, doc, l))
}

// AvailableActions lists every action actor may take on doc, primary first.
func (e *Engine) AvailableActions(actor Actor, doc Document) []ActionKind {
	role := e.resolver.Resolve(actor)
	l, _ := e.router.EnsureOperationStage(doc.Approvals, doc)
	return e.authorizer.Allowed(role, DeriveFacts(e.router, actor, doc, l))
}

// ApplyAction authorizes action against the current document and returns the
// resulting status and ledger. Nothing is returned but an error when the
// action is not permitted. The caller persists the patch.
func (e *Engine) ApplyAction(actor Actor, doc Document, action ActionKind, comment string) (Patch, error) {
	role, rule := e.resolver.Explain(actor)

	l, healed := e.router.EnsureOperationStage(doc.Approvals, doc)
	if healed && presumesOperationStage(doc.Status) {
		e.log.Warn().
			Str("document_id", doc.ID).
			Str("status", string(doc.Status)).
			Str("amount", doc.TotalAmount.String()).
			Msg("Missing approval stage: inserted pending operation manager stage")
	}

	facts := DeriveFacts(e.router, actor, doc, l)
	if !e.authorizer.Permits(role, facts, action) {
		e.log.Debug().
			Str("document_id", doc.ID).
			Str("actor_id", actor.ID).
			Str("role", string(role)).
			Str("role_rule", rule).
			Str("action", string(action)).
			Str("status", string(doc.Status)).
			Msg("Action denied")
		return Patch{}, errors.PermissionDenied(fmt.Sprintf(
			"role %s may not %s a document in status %s", role, displayAction(action), doc.Status))
	}

	now := e.now()
	next := nextStatus(action, facts)

	switch action {
	case ActionCheck, ActionApprove, ActionAcknowledge, ActionIssue:
		s, _ := stageFor(role)
		l = Decorate(l, role, StageMatcher(role), Entry{Actor: actor, Status: s.done, Comment: comment, At: now})
	case ActionReject:
		l = Decorate(l, role, StageMatcher(role), Entry{Actor: actor, Status: StageRejected, Comment: comment, At: now})
	case ActionCancel:
		l = Annotate(l, RolePreparer, joinComment("cancelled", comment))
	case ActionBackToPrevious:
		l = Reset(l, revertedStage(doc.Status), joinComment("returned by "+actorName(actor), comment))
	}

	return Patch{
		From:      doc.Status,
		Status:    next,
		Action:    action,
		Role:      role,
		Approvals: l,
	}, nil
}

// NewDocument prepares a freshly created document: status ongoing, total
// summed from item amounts rounded to AmountScale, an acted preparer stage, and the operation manager
// stage when the amount requires it.
func (e *Engine) NewDocument(actor Actor, doc Document) Document {
	items := make([]LineItem, len(doc.Items))
	total := decimal.Zero
	for i, it := range doc.Items {
		if it.Amount.IsZero() {
			it.Amount = it.Quantity.Mul(it.UnitPrice)
		}
		// the threshold must be decided on the amount that is persisted
		it.Amount = it.Amount.Round(AmountScale)
		total = total.Add(it.Amount)
		items[i] = it
	}

	now := e.now()
	doc.Items = items
	doc.TotalAmount = total
	doc.Status = StatusOngoing
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.RequesterName == "" {
		doc.RequesterName = actor.DisplayName
	}
	if doc.Branch == "" {
		doc.Branch = actor.Branch
	}

	l := Decorate(nil, RolePreparer, StageMatcher(RolePreparer), Entry{Actor: actor, Status: StagePrepared, At: now})
	doc.Approvals, _ = e.router.EnsureOperationStage(l, doc)
	return doc
}

var forwardTargets = map[ActionKind]DocumentStatus{
	ActionCheck:       StatusChecked,
	ActionApprove:     StatusBMApproved,
	ActionAcknowledge: StatusOperationAcknowledged,
	ActionIssue:       StatusCompleted,
	ActionReject:      StatusRejected,
	ActionCancel:      StatusCancelled,
}

func nextStatus(action ActionKind, f Facts) DocumentStatus {
	if action == ActionBackToPrevious {
		return previousStatus(f)
	}
	return forwardTargets[action]
}

// previousStatus is where back_to_previous lands: one stage back, skipping
// stages that were never acted.
func previousStatus(f Facts) DocumentStatus {
	switch f.Status {
	case StatusOperationAcknowledged:
		if f.BMActed {
			return StatusBMApproved
		}
		if f.CheckerActed {
			return StatusChecked
		}
		return StatusOngoing
	case StatusBMApproved:
		if f.CheckerActed {
			return StatusChecked
		}
		return StatusOngoing
	default:
		return StatusOngoing
	}
}

// revertedStage is the stage whose action produced status.
func revertedStage(status DocumentStatus) RoleKind {
	switch status {
	case StatusChecked:
		return RoleChecker
	case StatusBMApproved:
		return RoleBranchManager
	case StatusOperationAcknowledged:
		return RoleOperationManager
	}
	return RoleUnknown
}

func presumesOperationStage(s DocumentStatus) bool {
	return s == StatusBMApproved || s == StatusOperationAcknowledged
}

func displayAction(a ActionKind) string {
	if a == ActionNone {
		return "act on"
	}
	return strings.ReplaceAll(string(a), "_", " ")
}

func actorName(a Actor) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

func joinComment(prefix, comment string) string {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return prefix
	}
	return prefix + ": " + comment
}
