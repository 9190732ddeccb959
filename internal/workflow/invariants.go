package workflow

import (
	"fmt"
	"strings"
)

// Violation is one broken document invariant.
type Violation struct {
	Rule   string
	Detail string
}

// InvariantError collects the violations found on a document.
type InvariantError struct {
	DocumentID string
	Violations []Violation
}

func (e *InvariantError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Rule + ": " + v.Detail
	}
	return fmt.Sprintf("document %s violates %d invariant(s): %s",
		e.DocumentID, len(e.Violations), strings.Join(parts, "; "))
}

// CheckInvariants reports ledger and status violations on doc, or nil.
func (e *Engine) CheckInvariants(doc Document) error {
	var vs []Violation
	add := func(rule, format string, args ...any) {
		vs = append(vs, Violation{Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if !doc.Status.Valid() {
		add("status_known", "unknown status %q", doc.Status)
	}

	if p, ok := doc.Approvals.Stage(RolePreparer); !ok {
		add("preparer_present", "no preparer stage")
	} else if !p.Acted() {
		add("preparer_acted", "preparer stage is %s", p.Status)
	}

	for _, s := range stages {
		n := 0
		m := StageMatcher(s.role)
		for _, r := range doc.Approvals {
			if m(r) {
				n++
			}
		}
		if n > 1 {
			add("unique_stage", "%d records for stage %s", n, s.role)
		}
	}

	required := e.router.RequiresOperationStage(doc.TotalAmount)
	om, hasOM := doc.Approvals.Stage(RoleOperationManager)
	switch {
	case required && !hasOM:
		add("operation_stage", "amount %s requires an operation manager stage", doc.TotalAmount)
	case !required && hasOM && !om.Acted():
		add("operation_stage", "amount %s does not require an operation manager stage", doc.TotalAmount)
	}

	if doc.Status == StatusCompleted && !doc.Approvals.Acted(RoleAccount) {
		add("completed_issued", "completed document has no acted issuing stage")
	}

	if len(vs) == 0 {
		return nil
	}
	return &InvariantError{DocumentID: doc.ID, Violations: vs}
}
