// Package override implements the Override Processor:
// the mechanism by which a human bypasses a gate that failed or is
// pending approval, with a mandatory reason and approver identity, and a
// delegation check against the persona's Delegation rules. An override
// ignores a gate's cooldown for the purpose of firing, but its own
// timestamp still counts toward that gate's next cooldown window.
package override

import (
	"context"
	"fmt"
	"time"

	"github.com/ampersona-run/persona-core/pkg/approval"
	"github.com/ampersona-run/persona-core/pkg/criteria"
	"github.com/ampersona-run/persona-core/pkg/gate"
	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// ErrReasonRequired is returned when no reason is supplied.
var ErrReasonRequired = fmt.Errorf("override: reason is required")

// ErrApproverRequired is returned when no approver identity is supplied.
var ErrApproverRequired = fmt.Errorf("override: approver is required")

// ErrDelegationNotPermitted is returned when approver is not within the
// persona's allowed delegation set.
var ErrDelegationNotPermitted = fmt.Errorf("override: approver is not an authorized delegate")

// ErrFromPhaseMismatch is returned when the gate's from_phase does not
// match the persona's current phase — an override can only ever bypass
// the gate standing in front of where the persona actually is.
var ErrFromPhaseMismatch = fmt.Errorf("override: gate's from_phase does not match the current phase")

// ErrCriteriaCurrentlyPassing is returned when the gate's own criteria
// already pass: an override is a bypass for a gate that is failing or
// stuck pending, never a shortcut around ordinary evaluation.
var ErrCriteriaCurrentlyPassing = fmt.Errorf("override: gate's criteria already pass; evaluate normally instead")

// ErrApprovalLevelInsufficient is returned when the approver's attested
// delegation level is below the level the gate's own Approval kind
// requires (a quorum-gated gate cannot be overridden by a bare
// CanDelegateTo match; the approver must carry quorum-grade standing).
var ErrApprovalLevelInsufficient = fmt.Errorf("override: approver's delegation level is below the gate's approval level")

// Request is one override attempt against a specific gate.
type Request struct {
	GateID string
	ToPhase string
	Approver string
	// ApproverLevel is the approver's attested delegation level. Callers
	// backing Approver with a verified approval.Identity pass its Level
	// here; callers trusting a bare operator-supplied name (no token)
	// pass approval.LevelQuorum, since there is no cryptographic level to
	// check and the CLI already treats the flag as an asserted identity.
	ApproverLevel approval.Level
	Reason string
}

// requiredLevel maps a gate's Approval kind to the minimum ApproverLevel
// an override against it requires.
func requiredLevel(kind persona.ApprovalKind) approval.Level {
	switch kind {
	case persona.ApprovalQuorum:
		return approval.LevelQuorum
	case persona.ApprovalHuman:
		return approval.LevelHuman
	default:
		return approval.LevelNone
	}
}

// Apply validates req against the four override preconditions — from_phase
// match, criteria currently failing, reason and approver present,
// approver's delegation level at or above the gate's approval kind — and,
// if all hold, produces the Transition an override always applies
// immediately. Overrides never go through the gate's own approval
// workflow, by definition; ctx and provider exist only to re-evaluate the
// gate's own criteria for the currently-failing check.
func Apply(ctx context.Context, g persona.Gate, delegation persona.Delegation, provider metrics.Provider, currentPhase string, req Request, now time.Time) (gate.Transition, error) {
	if req.Reason == "" {
		return gate.Transition{}, ErrReasonRequired
	}
	if req.Approver == "" {
		return gate.Transition{}, ErrApproverRequired
	}
	if g.FromPhase != currentPhase {
		return gate.Transition{}, fmt.Errorf("%w: gate %q expects %q, persona is at %q", ErrFromPhaseMismatch, g.ID, g.FromPhase, currentPhase)
	}
	if !isAuthorizedDelegate(delegation, req.Approver) {
		return gate.Transition{}, fmt.Errorf("%w: %q", ErrDelegationNotPermitted, req.Approver)
	}
	if req.ApproverLevel < requiredLevel(g.Approval) {
		return gate.Transition{}, fmt.Errorf("%w: gate %q requires %v, approver carries %v", ErrApprovalLevelInsufficient, g.ID, requiredLevel(g.Approval), req.ApproverLevel)
	}

	metricsHash := ""
	if provider != nil {
		result, err := criteria.Evaluate(ctx, provider, g.Criteria)
		if err == nil {
			if result.Passed {
				return gate.Transition{}, fmt.Errorf("%w: %q", ErrCriteriaCurrentlyPassing, g.ID)
			}
			metricsHash = result.MetricsHash
		}
		// A missing/mismatched metric means criteria cannot be confirmed
		// passing either, so the override proceeds — mirroring how the
		// Gate Evaluator treats a metric error as "not passing".
	}

	return gate.Transition{
		GateID: g.ID,
		FromPhase: g.FromPhase,
		ToPhase: g.ToPhase,
		Direction: g.Direction,
		IsOverride: true,
		MetricsHash: metricsHash,
		At: now,
		Approver: req.Approver,
		Reason: req.Reason,
	}, nil
}

func isAuthorizedDelegate(d persona.Delegation, approver string) bool {
	if len(d.CanDelegateTo) == 0 {
		return true // no delegation restriction configured: any named approver is accepted
	}
	for _, allowed := range d.CanDelegateTo {
		if allowed == approver {
			return true
		}
	}
	return false
}
