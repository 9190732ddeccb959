package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiresOperationStage(t *testing.T) {
	r := NewThresholdRouter(DefaultOperationThreshold)

	tests := []struct {
		amount string
		want   bool
	}{
		{"0", false},
		{"300000", false},
		{"500000", false},
		{"500000.00", false},
		{"500000.01", true},
		{"800000", true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RequiresOperationStage(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestNewThresholdRouter_NegativeFallsBack(t *testing.T) {
	r := NewThresholdRouter(decimal.NewFromInt(-1))
	assert.True(t, r.Threshold().Equal(DefaultOperationThreshold))
}

func TestEnsureOperationStage(t *testing.T) {
	r := NewThresholdRouter(DefaultOperationThreshold)
	prepared := Ledger{
		{UserType: RolePreparer, Label: "Prepared By", Status: StagePrepared, ActedAt: &t0, ActorID: "u-prep"},
		{UserType: RoleAccount, Label: "Issued By", Status: StagePending},
	}

	t.Run("inserts pending stage when required", func(t *testing.T) {
		out, healed := r.EnsureOperationStage(prepared, Document{TotalAmount: decimal.NewFromInt(800_000)})
		assert.True(t, healed)
		assert.Equal(t, []RoleKind{RolePreparer, RoleOperationManager, RoleAccount}, userTypes(out))
		om, _ := out.Stage(RoleOperationManager)
		assert.Equal(t, StagePending, om.Status)
		assert.Len(t, prepared, 2)
	})

	t.Run("keeps existing stage when required", func(t *testing.T) {
		withOM := Insert(prepared, Pending(RoleOperationManager))
		out, healed := r.EnsureOperationStage(withOM, Document{TotalAmount: decimal.NewFromInt(800_000)})
		assert.False(t, healed)
		assert.Len(t, out, 3)
	})

	t.Run("removes pending stage when not required", func(t *testing.T) {
		withOM := Insert(prepared, Pending(RoleOperationManager))
		out, healed := r.EnsureOperationStage(withOM, Document{TotalAmount: decimal.NewFromInt(300_000)})
		assert.False(t, healed)
		assert.False(t, out.Has(RoleOperationManager))
	})

	t.Run("never removes an acted stage", func(t *testing.T) {
		acted := Decorate(prepared, RoleOperationManager, StageMatcher(RoleOperationManager),
			Entry{Actor: omActor, Status: StageAcknowledged, At: t1})
		out, _ := r.EnsureOperationStage(acted, Document{TotalAmount: decimal.NewFromInt(300_000)})
		require.True(t, out.Has(RoleOperationManager))
		assert.True(t, out.Acted(RoleOperationManager))
	})
}

func TestOperationStageSatisfied(t *testing.T) {
	r := NewThresholdRouter(DefaultOperationThreshold)
	big := decimal.NewFromInt(800_000)
	pending := Ledger{Pending(RoleOperationManager)}
	acked := Decorate(pending, RoleOperationManager, StageMatcher(RoleOperationManager),
		Entry{Actor: omActor, Status: StageAcknowledged, At: t1})
	rejected := Decorate(pending, RoleOperationManager, StageMatcher(RoleOperationManager),
		Entry{Actor: omActor, Status: StageRejected, At: t1})

	assert.True(t, r.OperationStageSatisfied(nil, decimal.NewFromInt(100)))
	assert.False(t, r.OperationStageSatisfied(nil, big))
	assert.False(t, r.OperationStageSatisfied(pending, big))
	assert.True(t, r.OperationStageSatisfied(acked, big))
	assert.False(t, r.OperationStageSatisfied(rejected, big))
}
