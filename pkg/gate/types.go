// Package gate implements the Gate Evaluator: the
// deterministic phase-transition selection, criteria evaluation, and
// approval bookkeeping engine. It holds no storage concerns itself — the
// caller supplies the current PhaseState and persists whatever Evaluate
// returns — Evaluate itself is a pure function over an explicit state
// value, not an internally-owned map.
package gate

import (
	"time"

	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Transition records one applied (or observed) phase change.
type Transition struct {
	GateID string `json:"gate_id"`
	FromPhase string `json:"from_phase"`
	ToPhase string `json:"to_phase"`
	Direction persona.Direction `json:"direction"`
	IsOverride bool `json:"is_override"`
	MetricsHash string `json:"metrics_hash"`
	At time.Time `json:"at"`
	Approver string `json:"approver,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PendingTransition is a gate awaiting human or quorum approval. It is
// keyed by (GateID, MetricsHash) so that re-evaluating the same gate
// against the same metric snapshot is idempotent: a re-evaluation never
// creates a second pending record.
type PendingTransition struct {
	GateID string `json:"gate_id"`
	ToPhase string `json:"to_phase"`
	Direction persona.Direction `json:"direction"`
	MetricsHash string `json:"metrics_hash"`
	CreatedAt time.Time `json:"created_at"`
	Approval persona.ApprovalKind `json:"approval"`
	QuorumSize int `json:"quorum_size,omitempty"`
	Approvers []string `json:"approvers,omitempty"`
}

// ActiveElevation is a currently-granted elevation instance.
type ActiveElevation struct {
	ElevationID string `json:"elevation_id"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Approver string `json:"approver,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PhaseState is the persisted, mutable half of the runtime's state:
// everything about a name's current lifecycle position.
type PhaseState struct {
	Name string `json:"name"`
	CurrentPhase string `json:"current_phase"`
	StateRev int64 `json:"state_rev"`
	ActiveElevations []ActiveElevation `json:"active_elevations,omitempty"`
	LastTransition map[string]*Transition `json:"last_transition,omitempty"` // gate_id -> last transition it fired
	PendingTransition *PendingTransition `json:"pending_transition,omitempty"`
	ActiveOverlay *persona.AuthorityOverlay `json:"active_overlay,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome describes what Evaluate decided for one evaluation pass.
type Outcome struct {
	// Fired is the gate that first passed, or nil if none did.
	Fired *persona.Gate
	// MetricsHash is the metrics_hash of the evaluation that produced
	// this outcome (empty if no gate was evaluated — e.g. all cooled down).
	MetricsHash string
	// Transitioned is true only when an enforce gate passed, was
	// auto-approved, and the phase actually changed.
	Transitioned bool
	Transition *Transition
	// Pending is set when Fired requires human/quorum approval and no
	// matching pending record existed yet (or already existed — in
	// either case this is the authoritative current pending record).
	Pending *PendingTransition
	// Observed is true when Fired's enforcement is "observe": criteria
	// passed but no transition is ever applied for this gate.
	Observed bool
	// MetricErrors records, per candidate gate id, the error produced by
	// a missing or type-mismatched metric (such a
	// gate is treated as not-passing and evaluation continues to the
	// next candidate; the error itself is still surfaced here so the
	// caller can log it to the decision record and the drift ledger).
	MetricErrors map[string]string
}
