package workflow

// Facts is everything the authorizer needs to know about a document and
// the actor in front of it.
type Facts struct {
	Status             DocumentStatus
	OperationRequired  bool
	OperationSatisfied bool
	CheckerActed       bool
	BMActed            bool
	IsOriginator       bool
}

// DeriveFacts reads Facts off a document snapshot. The ledger is passed
// separately so callers can supply a healed copy.
func DeriveFacts(router ThresholdRouter, actor Actor, doc Document, l Ledger) Facts {
	preparer, _ := l.Stage(RolePreparer)
	return Facts{
		Status:             doc.Status,
		OperationRequired:  router.RequiresOperationStage(doc.TotalAmount),
		OperationSatisfied: router.OperationStageSatisfied(l, doc.TotalAmount),
		CheckerActed:       l.Acted(RoleChecker),
		BMActed:            l.Acted(RoleBranchManager),
		IsOriginator:       actor.ID != "" && preparer.ActorID == actor.ID,
	}
}

type permission struct {
	role    RoleKind
	action  ActionKind
	primary bool
	when    func(Facts) bool
}

func statusIn(f Facts, statuses ...DocumentStatus) bool {
	for _, s := range statuses {
		if f.Status == s {
			return true
		}
	}
	return false
}

// permissions is the full transition table. Each role has at most one
// primary row that can hold for a given Facts value.
var permissions = []permission{
	{RoleChecker, ActionCheck, true, func(f Facts) bool {
		return statusIn(f, StatusOngoing)
	}},
	{RoleBranchManager, ActionApprove, true, func(f Facts) bool {
		return statusIn(f, StatusOngoing, StatusChecked)
	}},
	{RoleOperationManager, ActionAcknowledge, true, func(f Facts) bool {
		return statusIn(f, StatusBMApproved, StatusChecked) && f.OperationRequired && !f.OperationSatisfied
	}},
	// The ledger gate, not the status label, decides whether issuing is open.
	{RoleAccount, ActionIssue, true, func(f Facts) bool {
		return statusIn(f, StatusBMApproved, StatusOperationAcknowledged) && f.OperationSatisfied
	}},
	{RolePreparer, ActionCancel, true, func(f Facts) bool {
		return statusIn(f, StatusOngoing, StatusChecked) && f.IsOriginator
	}},

	{RoleBranchManager, ActionReject, false, func(f Facts) bool {
		return statusIn(f, StatusOngoing, StatusChecked)
	}},
	{RoleOperationManager, ActionReject, false, func(f Facts) bool {
		return statusIn(f, StatusChecked, StatusBMApproved) && f.OperationRequired && !f.OperationSatisfied
	}},

	{RoleBranchManager, ActionBackToPrevious, false, func(f Facts) bool {
		return statusIn(f, StatusChecked)
	}},
	{RoleOperationManager, ActionBackToPrevious, false, func(f Facts) bool {
		return statusIn(f, StatusBMApproved) && f.OperationRequired && !f.OperationSatisfied
	}},
	{RoleAccount, ActionBackToPrevious, false, func(f Facts) bool {
		return (statusIn(f, StatusBMApproved) && !f.OperationRequired) || statusIn(f, StatusOperationAcknowledged)
	}},
}

// Authorizer answers which actions a role may take.
type Authorizer struct{}

// Authorize returns the single primary action available to role, or
// ActionNone. This is what a client renders as "the" button.
func (Authorizer) Authorize(role RoleKind, f Facts) ActionKind {
	if f.Status.Terminal() {
		return ActionNone
	}
	for _, p := range permissions {
		if p.primary && p.role == role && p.when(f) {
			return p.action
		}
	}
	return ActionNone
}

// Permits reports whether role may take action, primary or secondary.
func (Authorizer) Permits(role RoleKind, f Facts, action ActionKind) bool {
	if action == ActionNone || f.Status.Terminal() {
		return false
	}
	for _, p := range permissions {
		if p.role == role && p.action == action && p.when(f) {
			return true
		}
	}
	return false
}

// Allowed lists every action role may take, the primary action first.
func (a Authorizer) Allowed(role RoleKind, f Facts) []ActionKind {
	var out []ActionKind
	if primary := a.Authorize(role, f); primary != ActionNone {
		out = append(out, primary)
	}
	if f.Status.Terminal() {
		return out
	}
	for _, p := range permissions {
		if !p.primary && p.role == role && p.when(f) {
			out = append(out, p.action)
		}
	}
	return out
}

// InboxStatuses lists the non-terminal statuses in which role has a primary
// row that can hold for some Facts. Stores use it to narrow a pending query
// before the authorizer makes the final call per document.
func InboxStatuses(role RoleKind) []DocumentStatus {
	var out []DocumentStatus
	for _, s := range []DocumentStatus{StatusOngoing, StatusChecked, StatusBMApproved, StatusOperationAcknowledged} {
		if reachable(role, s) {
			out = append(out, s)
		}
	}
	return out
}

func reachable(role RoleKind, s DocumentStatus) bool {
	for mask := 0; mask < 32; mask++ {
		f := Facts{
			Status:             s,
			OperationRequired:  mask&1 != 0,
			OperationSatisfied: mask&2 != 0,
			CheckerActed:       mask&4 != 0,
			BMActed:            mask&8 != 0,
			IsOriginator:       mask&16 != 0,
		}
		for _, p := range permissions {
			if p.primary && p.role == role && p.when(f) {
				return true
			}
		}
	}
	return false
}
