package gate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ampersona-run/persona-core/pkg/criteria"
	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Evaluator selects and evaluates phase-transition gates against a
// PhaseState. Clock is overridable for deterministic tests.
type Evaluator struct {
	Gates []persona.Gate
	Provider metrics.Provider
	Clock func() time.Time
}

// NewEvaluator returns an Evaluator with a real-time clock.
func NewEvaluator(gates []persona.Gate, provider metrics.Provider) *Evaluator {
	return &Evaluator{Gates: gates, Provider: provider, Clock: time.Now}
}

func (e *Evaluator) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Evaluate runs one deterministic evaluation pass over state.CurrentPhase:
// 1. expiring ActiveElevations past their TTL is the caller's
// responsibility (pkg/elevation) — Evaluate neither reads nor mutates
// ActiveElevations.
// 2. collect candidate gates whose FromPhase matches the current phase
// 3. drop candidates still within their cooldown window
// 4. sort by (direction: demote before promote, priority desc, id asc)
// 5. evaluate each candidate's criteria in order; the first pass wins
func (e *Evaluator) Evaluate(ctx context.Context, state PhaseState) (Outcome, error) {
	candidates := make([]persona.Gate, 0, len(e.Gates))
	for _, g := range e.Gates {
		if g.FromPhase == state.CurrentPhase {
			candidates = append(candidates, g)
		}
	}

	now := e.now()
	candidates = filterCooldown(candidates, state, now)
	sortCandidates(candidates)

	var metricErrors map[string]string
	for _, g := range candidates {
		result, err := criteria.Evaluate(ctx, e.Provider, g.Criteria)
		if err != nil {
			// A missing or mismatched metric counts as "not passing" for
			// this candidate; the evaluator moves on to the next one
			// instead of failing the entire tick.
			if metricErrors == nil {
				metricErrors = map[string]string{}
			}
			metricErrors[g.ID] = fmt.Sprintf("gate %q: %v", g.ID, err)
			continue
		}
		if !result.Passed {
			continue
		}

		gate := g
		if gate.Enforcement == persona.EnforcementObserve {
			return Outcome{Fired: &gate, MetricsHash: result.MetricsHash, Observed: true, MetricErrors: metricErrors}, nil
		}

		outcome, err := e.resolveApproval(gate, state, result.MetricsHash, now)
		if err != nil {
			return Outcome{}, err
		}
		outcome.MetricErrors = metricErrors
		return outcome, nil
	}

	return Outcome{MetricErrors: metricErrors}, nil
}

func (e *Evaluator) resolveApproval(g persona.Gate, state PhaseState, metricsHash string, now time.Time) (Outcome, error) {
	if g.Approval == persona.ApprovalAuto {
		t := &Transition{
			GateID: g.ID, FromPhase: g.FromPhase, ToPhase: g.ToPhase,
			Direction: g.Direction, MetricsHash: metricsHash, At: now,
		}
		gate := g
		return Outcome{Fired: &gate, MetricsHash: metricsHash, Transitioned: true, Transition: t}, nil
	}

	// Idempotence: a pending record already matching this gate and this
	// exact metric snapshot is returned unchanged rather than duplicated.
	if state.PendingTransition != nil &&
		state.PendingTransition.GateID == g.ID &&
		state.PendingTransition.MetricsHash == metricsHash {
		gate := g
		return Outcome{Fired: &gate, MetricsHash: metricsHash, Pending: state.PendingTransition}, nil
	}

	pending := &PendingTransition{
		GateID: g.ID, ToPhase: g.ToPhase, Direction: g.Direction,
		MetricsHash: metricsHash, CreatedAt: now, Approval: g.Approval, QuorumSize: g.QuorumSize,
	}
	gate := g
	return Outcome{Fired: &gate, MetricsHash: metricsHash, Pending: pending}, nil
}

// filterCooldown drops any gate whose last recorded transition is still
// within its CooldownSeconds window, preventing anti-Zeno oscillation.
func filterCooldown(gates []persona.Gate, state PhaseState, now time.Time) []persona.Gate {
	if state.LastTransition == nil {
		return gates
	}
	out := make([]persona.Gate, 0, len(gates))
	for _, g := range gates {
		if g.CooldownSeconds <= 0 {
			out = append(out, g)
			continue
		}
		last, ok := state.LastTransition[g.ID]
		if !ok {
			out = append(out, g)
			continue
		}
		if now.Sub(last.At) >= time.Duration(g.CooldownSeconds)*time.Second {
			out = append(out, g)
		}
	}
	return out
}

// sortCandidates orders gates deterministically: demotes before
// promotes (a system should always be quicker to retreat than advance),
// then descending priority, then ascending id as the final tiebreak.
func sortCandidates(gates []persona.Gate) {
	sort.SliceStable(gates, func(i, j int) bool {
		a, b := gates[i], gates[j]
		if a.Direction != b.Direction {
			return a.Direction == persona.DirectionDemote
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
}

// RecordApproval adds approverID to a pending quorum transition and
// reports whether quorum is now met. For a human-approval pending
// transition, any single approval satisfies it.
func RecordApproval(pending *PendingTransition, approverID string) (satisfied bool) {
	found := false
	for _, a := range pending.Approvers {
		if a == approverID {
			found = true
			break
		}
	}
	if !found {
		pending.Approvers = append(pending.Approvers, approverID)
	}

	switch pending.Approval {
	case persona.ApprovalHuman:
		return len(pending.Approvers) >= 1
	case persona.ApprovalQuorum:
		return len(pending.Approvers) >= pending.QuorumSize
	default:
		return false
	}
}
