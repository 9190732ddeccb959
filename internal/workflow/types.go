// Package workflow implements the damage-issue approval state machine: role
// resolution, amount-based routing, action authorization, status transitions
// and the per-stage approval ledger.
//
// Everything in this package is pure. Callers pass in a document snapshot
// and an actor and get back a patch to persist.
package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoleKind is the canonical role of an acting user.
type RoleKind string

const (
	RolePreparer         RoleKind = "preparer"
	RoleChecker          RoleKind = "checker"
	RoleBranchManager    RoleKind = "branch_manager"
	RoleOperationManager RoleKind = "operation_manager"
	RoleAccount          RoleKind = "account"
	RoleSupervisor       RoleKind = "supervisor"
	RoleUnknown          RoleKind = "unknown"
)

// Valid reports whether r is one of the known roles (Unknown included).
func (r RoleKind) Valid() bool {
	switch r {
	case RolePreparer, RoleChecker, RoleBranchManager, RoleOperationManager,
		RoleAccount, RoleSupervisor, RoleUnknown:
		return true
	}
	return false
}

// DocumentStatus is the overall status of a damage document.
type DocumentStatus string

const (
	StatusOngoing               DocumentStatus = "ongoing"
	StatusChecked               DocumentStatus = "checked"
	StatusBMApproved            DocumentStatus = "bm_approved"
	StatusOperationAcknowledged DocumentStatus = "operation_acknowledged"
	StatusCompleted             DocumentStatus = "completed"
	StatusRejected              DocumentStatus = "rejected"
	StatusCancelled             DocumentStatus = "cancelled"
)

var statusRank = map[DocumentStatus]int{
	StatusOngoing:               0,
	StatusChecked:               1,
	StatusBMApproved:            2,
	StatusOperationAcknowledged: 3,
	StatusCompleted:             4,
}

// Rank returns the position of s in the forward progression, or -1 for the
// side states (rejected, cancelled) and unknown values.
func (s DocumentStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further action is possible from s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	return s.Rank() >= 0 || s == StatusRejected || s == StatusCancelled
}

// ActionKind is a role-specific verb that drives a status transition.
type ActionKind string

const (
	ActionNone           ActionKind = ""
	ActionCheck          ActionKind = "check"
	ActionApprove        ActionKind = "approve"
	ActionAcknowledge    ActionKind = "acknowledge"
	ActionIssue          ActionKind = "issue"
	ActionReject         ActionKind = "reject"
	ActionCancel         ActionKind = "cancel"
	ActionBackToPrevious ActionKind = "back_to_previous"
)

// ParseAction converts a wire value to an ActionKind.
func ParseAction(s string) (ActionKind, bool) {
	switch a := ActionKind(s); a {
	case ActionCheck, ActionApprove, ActionAcknowledge, ActionIssue,
		ActionReject, ActionCancel, ActionBackToPrevious:
		return a, true
	}
	return ActionNone, false
}

// Actor is the user performing a request. It is supplied per call by the
// identity provider and never stored by the engine.
type Actor struct {
	ID            string
	DisplayName   string
	Branch        string
	RawRoleFields map[string]string
	PositionTitle string
}

// LineItem is one damaged article on a document.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Document is the snapshot the engine reads. The repository owns it.
type Document struct {
	ID            string
	Number        string
	Status        DocumentStatus
	TotalAmount   decimal.Decimal
	Items         []LineItem
	Approvals     Ledger
	Branch        string
	RequesterName string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ApprovalRecord is one stage of the approval ledger.
type ApprovalRecord struct {
	UserType    RoleKind   `json:"user_type"`
	Label       string     `json:"label"`
	Status      string     `json:"status"`
	ActedAt     *time.Time `json:"acted_at,omitempty"`
	ActorID     string     `json:"actor_id,omitempty"`
	ActorName   string     `json:"actor_name,omitempty"`
	ActorBranch string     `json:"actor_branch,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// Acted reports whether an actor has acted on this stage.
func (r ApprovalRecord) Acted() bool {
	return r.ActedAt != nil && r.ActorID != "" && r.Status != StagePending
}

// Patch is the result of a transition: what the caller must persist.
type Patch struct {
	From      DocumentStatus
	Status    DocumentStatus
	Action    ActionKind
	Role      RoleKind
	Approvals Ledger
}

// Stage status strings.
const (
	StagePending      = "Pending"
	StagePrepared     = "Prepared"
	StageChecked      = "Checked"
	StageApproved     = "Approved"
	StageAcknowledged = "Acknowledged"
	StageIssued       = "Issued"
	StageRejected     = "Rejected"
)

// stage describes one slot of the ledger.
type stage struct {
	role  RoleKind
	label string
	done  string
	order int
}

// stages is the canonical display order of the ledger.
var stages = []stage{
	{role: RolePreparer, label: "Prepared By", done: StagePrepared, order: 0},
	{role: RoleChecker, label: "Checked By", done: StageChecked, order: 1},
	{role: RoleBranchManager, label: "Approved By", done: StageApproved, order: 2},
	{role: RoleOperationManager, label: "Operation Manager", done: StageAcknowledged, order: 3},
	{role: RoleAccount, label: "Issued By", done: StageIssued, order: 4},
}

func stageFor(role RoleKind) (stage, bool) {
	for _, s := range stages {
		if s.role == role {
			return s, true
		}
	}
	return stage{}, false
}

// StageLabel returns the canonical ledger label for a role's stage.
func StageLabel(role RoleKind) string {
	if s, ok := stageFor(role); ok {
		return s.label
	}
	return ""
}
