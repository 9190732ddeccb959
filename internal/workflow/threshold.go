package workflow

import "github.com/shopspring/decimal"

// DefaultOperationThreshold is the amount above which a document needs the
// operation manager stage.
var DefaultOperationThreshold = decimal.NewFromInt(500_000)

// Decimal places kept by the store for money and quantities.
const (
	AmountScale   int32 = 2
	QuantityScale int32 = 4
)

// ThresholdRouter decides whether the operation manager stage applies.
type ThresholdRouter struct {
	threshold decimal.Decimal
}

// NewThresholdRouter creates a router with the given cutoff. A negative
// cutoff falls back to DefaultOperationThreshold.
func NewThresholdRouter(threshold decimal.Decimal) ThresholdRouter {
	if threshold.IsNegative() {
		threshold = DefaultOperationThreshold
	}
	return ThresholdRouter{threshold: threshold}
}

// Threshold returns the configured cutoff.
func (t ThresholdRouter) Threshold() decimal.Decimal {
	return t.threshold
}

// RequiresOperationStage reports whether amount is strictly above the cutoff.
func (t ThresholdRouter) RequiresOperationStage(amount decimal.Decimal) bool {
	return amount.GreaterThan(t.threshold)
}

// EnsureOperationStage reconciles the ledger's operation manager stage with
// the document amount. A pending stage is inserted when required and absent
// and removed when not required. An acted stage is never removed. healed is
// true when a stage had to be inserted.
func (t ThresholdRouter) EnsureOperationStage(l Ledger, doc Document) (out Ledger, healed bool) {
	required := t.RequiresOperationStage(doc.TotalAmount)
	rec, present := l.Stage(RoleOperationManager)

	switch {
	case required && !present:
		return Insert(l, Pending(RoleOperationManager)), true
	case !required && present && !rec.Acted():
		return Remove(l, RoleOperationManager), false
	default:
		return l.Clone(), false
	}
}

// OperationStageSatisfied is the single gate for the issuing stage: the
// operation manager stage is either not required or has been acknowledged
// by an actor. The document status label plays no part.
func (t ThresholdRouter) OperationStageSatisfied(l Ledger, amount decimal.Decimal) bool {
	if !t.RequiresOperationStage(amount) {
		return true
	}
	rec, ok := l.Stage(RoleOperationManager)
	return ok && rec.Acted() && rec.Status == StageAcknowledged
}
