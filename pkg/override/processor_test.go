package override

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ampersona-run/persona-core/pkg/approval"
	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

func TestApply_RequiresReasonAndApprover(t *testing.T) {
	g := persona.Gate{ID: "g1", FromPhase: "probation", ToPhase: "trusted"}
	_, err := Apply(context.Background(), g, persona.Delegation{}, nil, "probation", Request{Approver: "alice", ApproverLevel: approval.LevelQuorum}, time.Now())
	require.ErrorIs(t, err, ErrReasonRequired)

	_, err = Apply(context.Background(), g, persona.Delegation{}, nil, "probation", Request{Reason: "incident", ApproverLevel: approval.LevelQuorum}, time.Now())
	require.ErrorIs(t, err, ErrApproverRequired)
}

func TestApply_RejectsUnauthorizedDelegate(t *testing.T) {
	g := persona.Gate{ID: "g1", FromPhase: "probation", ToPhase: "trusted"}
	d := persona.Delegation{CanDelegateTo: []string{"ops-lead"}}
	_, err := Apply(context.Background(), g, d, nil, "probation", Request{Approver: "random-person", Reason: "incident", ApproverLevel: approval.LevelQuorum}, time.Now())
	require.ErrorIs(t, err, ErrDelegationNotPermitted)
}

func TestApply_RejectsFromPhaseMismatch(t *testing.T) {
	g := persona.Gate{ID: "g1", FromPhase: "probation", ToPhase: "trusted"}
	d := persona.Delegation{CanDelegateTo: []string{"ops-lead"}}
	_, err := Apply(context.Background(), g, d, nil, "trusted", Request{Approver: "ops-lead", Reason: "incident", ApproverLevel: approval.LevelQuorum}, time.Now())
	require.ErrorIs(t, err, ErrFromPhaseMismatch)
}

func TestApply_RejectsInsufficientApprovalLevel(t *testing.T) {
	g := persona.Gate{ID: "g1", FromPhase: "probation", ToPhase: "trusted", Approval: persona.ApprovalQuorum}
	d := persona.Delegation{CanDelegateTo: []string{"ops-lead"}}
	_, err := Apply(context.Background(), g, d, nil, "probation", Request{Approver: "ops-lead", Reason: "incident", ApproverLevel: approval.LevelHuman}, time.Now())
	require.ErrorIs(t, err, ErrApprovalLevelInsufficient)
}

func TestApply_RejectsCriteriaCurrentlyPassing(t *testing.T) {
	g := persona.Gate{
		ID: "g1", FromPhase: "probation", ToPhase: "trusted",
		Criteria: persona.CriteriaLogic{
			Mode: persona.LogicAll,
			Criteria: []persona.Criterion{{Metric: "test_pass_rate", Op: persona.OpGte, Value: 0.9}},
		},
	}
	d := persona.Delegation{CanDelegateTo: []string{"ops-lead"}}
	provider := metrics.StaticProvider{Samples: map[string]metrics.Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: metrics.KindFloat, Float: 0.99},
	}}
	_, err := Apply(context.Background(), g, d, provider, "probation", Request{Approver: "ops-lead", Reason: "incident", ApproverLevel: approval.LevelQuorum}, time.Now())
	require.ErrorIs(t, err, ErrCriteriaCurrentlyPassing)
}

func TestApply_ProducesOverrideTransition(t *testing.T) {
	g := persona.Gate{ID: "g1", FromPhase: "probation", ToPhase: "trusted", Direction: persona.DirectionPromote}
	d := persona.Delegation{CanDelegateTo: []string{"ops-lead"}}
	now := time.Now()
	tr, err := Apply(context.Background(), g, d, nil, "probation", Request{Approver: "ops-lead", Reason: "incident-mitigation", ApproverLevel: approval.LevelQuorum}, now)
	require.NoError(t, err)
	require.True(t, tr.IsOverride)
	require.Equal(t, "trusted", tr.ToPhase)
	require.Equal(t, "ops-lead", tr.Approver)
}
