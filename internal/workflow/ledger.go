package workflow

import (
	"strings"
	"time"
)

// Ledger is the ordered approval trail of a document, one record per stage.
// Every function here returns a new slice; the input is never modified.
type Ledger []ApprovalRecord

// Matcher selects a ledger record.
type Matcher func(ApprovalRecord) bool

// Entry carries the attribution written onto a stage.
type Entry struct {
	Actor   Actor
	Status  string
	Comment string
	At      time.Time
}

// labelRoles maps label keywords to stages for records written without a
// user type. Order matters: "Operation Approved" must land on the operation
// manager stage, not on branch manager through "approv".
var labelRoles = []struct {
	keyword string
	role    RoleKind
}{
	{"operation", RoleOperationManager},
	{"acknowledg", RoleOperationManager},
	{"issu", RoleAccount},
	{"account", RoleAccount},
	{"prepar", RolePreparer},
	{"check", RoleChecker},
	{"approv", RoleBranchManager},
	{"branch", RoleBranchManager},
}

func labelRole(label string) RoleKind {
	l := strings.ToLower(label)
	for _, lr := range labelRoles {
		if strings.Contains(l, lr.keyword) {
			return lr.role
		}
	}
	return RoleUnknown
}

// StageMatcher matches a role's stage by user type, falling back to the
// label keyword for records that carry no recognised user type.
func StageMatcher(role RoleKind) Matcher {
	return func(r ApprovalRecord) bool {
		if r.UserType == role {
			return true
		}
		if _, staged := stageFor(r.UserType); staged {
			return false
		}
		return labelRole(r.Label) == role
	}
}

// Clone returns a copy of l whose records do not share timestamps with l.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, r := range l {
		if r.ActedAt != nil {
			t := *r.ActedAt
			r.ActedAt = &t
		}
		out[i] = r
	}
	return out
}

// Find returns the first record satisfying m and its index.
func (l Ledger) Find(m Matcher) (ApprovalRecord, int, bool) {
	for i, r := range l {
		if m(r) {
			return r, i, true
		}
	}
	return ApprovalRecord{}, -1, false
}

// Stage returns the record for role's stage.
func (l Ledger) Stage(role RoleKind) (ApprovalRecord, bool) {
	r, _, ok := l.Find(StageMatcher(role))
	return r, ok
}

// Has reports whether role's stage is present, acted or not.
func (l Ledger) Has(role RoleKind) bool {
	_, ok := l.Stage(role)
	return ok
}

// Acted reports whether role's stage is present and acted.
func (l Ledger) Acted(role RoleKind) bool {
	r, ok := l.Stage(role)
	return ok && r.Acted()
}

// Decorate writes e onto the first record matching m. When nothing matches,
// a new record seeded with role's canonical label is inserted at the stage's
// display position and decorated. Re-decorating a stage overwrites its
// attribution and never adds a second record.
func Decorate(l Ledger, role RoleKind, m Matcher, e Entry) Ledger {
	out := l.Clone()
	at := e.At

	if _, i, ok := out.Find(m); ok {
		rec := out[i]
		if rec.UserType == "" || rec.UserType == RoleUnknown {
			rec.UserType = role
		}
		if rec.Label == "" {
			rec.Label = StageLabel(role)
		}
		out[i] = attribute(rec, e, &at)
		return out
	}

	rec := ApprovalRecord{UserType: role, Label: StageLabel(role)}
	return insertOrdered(out, attribute(rec, e, &at))
}

func attribute(rec ApprovalRecord, e Entry, at *time.Time) ApprovalRecord {
	rec.Status = e.Status
	rec.ActedAt = at
	rec.ActorID = e.Actor.ID
	rec.ActorName = e.Actor.DisplayName
	rec.ActorBranch = e.Actor.Branch
	rec.Comment = e.Comment
	return rec
}

// Pending returns a fresh pending record for role's stage.
func Pending(role RoleKind) ApprovalRecord {
	return ApprovalRecord{UserType: role, Label: StageLabel(role), Status: StagePending}
}

// Insert adds rec at its stage's display position unless that stage already
// exists, in which case l is returned unchanged (as a copy).
func Insert(l Ledger, rec ApprovalRecord) Ledger {
	out := l.Clone()
	if out.Has(rec.UserType) {
		return out
	}
	return insertOrdered(out, rec)
}

// Remove drops role's stage.
func Remove(l Ledger, role RoleKind) Ledger {
	m := StageMatcher(role)
	out := make(Ledger, 0, len(l))
	for _, r := range l.Clone() {
		if !m(r) {
			out = append(out, r)
		}
	}
	return out
}

// Reset returns role's stage to pending, clearing its attribution. The
// comment, if any, is kept on the record so the reason survives.
func Reset(l Ledger, role RoleKind, comment string) Ledger {
	out := l.Clone()
	if _, i, ok := out.Find(StageMatcher(role)); ok {
		rec := out[i]
		rec.Status = StagePending
		rec.ActedAt = nil
		rec.ActorID = ""
		rec.ActorName = ""
		rec.ActorBranch = ""
		rec.Comment = comment
		out[i] = rec
	}
	return out
}

// Annotate replaces the comment on role's stage and leaves its attribution
// untouched.
func Annotate(l Ledger, role RoleKind, comment string) Ledger {
	out := l.Clone()
	if _, i, ok := out.Find(StageMatcher(role)); ok {
		out[i].Comment = comment
	}
	return out
}

func stageOrder(r ApprovalRecord) int {
	role := r.UserType
	if _, ok := stageFor(role); !ok {
		role = labelRole(r.Label)
	}
	if s, ok := stageFor(role); ok {
		return s.order
	}
	return len(stages)
}

func insertOrdered(l Ledger, rec ApprovalRecord) Ledger {
	order := stageOrder(rec)
	idx := len(l)
	for i, r := range l {
		if stageOrder(r) > order {
			idx = i
			break
		}
	}
	out := make(Ledger, 0, len(l)+1)
	out = append(out, l[:idx]...)
	out = append(out, rec)
	out = append(out, l[idx:]...)
	return out
}
