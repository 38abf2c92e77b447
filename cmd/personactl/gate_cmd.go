package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ampersona-run/persona-core/pkg/approval"
	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/drift"
	"github.com/ampersona-run/persona-core/pkg/elevation"
	"github.com/ampersona-run/persona-core/pkg/gate"
	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/override"
	"github.com/ampersona-run/persona-core/pkg/persona"
	"github.com/ampersona-run/persona-core/pkg/state"
)

func runGateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	evaluateMode := cmd.Bool("evaluate", false, "Evaluate candidate gates against the current phase state")
	overrideMode := cmd.Bool("override", false, "Force a gate transition, bypassing its own approval workflow")
	approveMode := cmd.Bool("approve", false, "Submit an approval toward a gate's pending human/quorum transition")
	var personaPath, stateDir, name, gateID, toPhase, approver, reason, metricsJSON string
	var approverToken, approverPubKey, approverKeyID string
	cmd.StringVar(&personaPath, "persona", "", "Path to persona document")
	cmd.StringVar(&stateDir, "state-dir", "", "Workspace directory holding <name>.state.json etc. (REQUIRED)")
	cmd.StringVar(&name, "name", "", "Phase-state name (REQUIRED)")
	cmd.StringVar(&metricsJSON, "metrics-json", "", `JSON object of metric name -> value (number/bool/string), e.g. {"test_pass_rate": 0.97} (--evaluate; also consulted by --override to confirm the gate's criteria are currently failing)`)
	cmd.StringVar(&gateID, "gate", "", "Gate id to override or approve (--override, --approve)")
	cmd.StringVar(&toPhase, "to-phase", "", "Target phase (--override only, informational; the gate's own to_phase wins)")
	cmd.StringVar(&approver, "approver", "", "Approver identity (--override/--approve; ignored if --approver-token is set)")
	cmd.StringVar(&reason, "reason", "", "Mandatory override reason (--override only)")
	cmd.StringVar(&approverToken, "approver-token", "", "Signed approver bearer token (--override/--approve; replaces --approver with a verified identity)")
	cmd.StringVar(&approverPubKey, "approver-pubkey", "", "Base64 Ed25519 public key used to verify --approver-token")
	cmd.StringVar(&approverKeyID, "approver-keyid", "", "key_id the --approver-token is expected to carry in its kid header")
	jsonOut := cmd.Bool("json", false, "Emit JSON output")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if stateDir == "" || name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --state-dir and --name are required")
		return exitRuntimeError
	}
	approverLevel := approval.LevelQuorum // a bare --approver flag is already an asserted, trusted identity
	if approverToken != "" {
		id, err := verifyApproverToken(approverToken, approverKeyID, approverPubKey)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: approver token: %v\n", err)
			return exitRuntimeError
		}
		approver = id.ApproverID
		approverLevel = id.Level
	}

	lock := state.NewFileLockBackend(func(n string) string { return stateDir + "/" + n + ".state.lock" })
	auditLog, err := audit.Open(stateDir + "/" + name + ".audit.jsonl")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open audit log: %v\n", err)
		return exitRuntimeError
	}
	store := state.NewStore(stateDir, lock, auditLog)

	switch {
	case *evaluateMode:
		return runGateEvaluate(store, auditLog, stateDir, personaPath, name, metricsJSON, stdout, stderr, *jsonOut)
	case *overrideMode:
		return runGateOverride(store, personaPath, name, gateID, toPhase, approver, reason, metricsJSON, approverLevel, stdout, stderr, *jsonOut)
	case *approveMode:
		return runGateApprove(store, name, gateID, approver, stdout, stderr, *jsonOut)
	default:
		_, _ = fmt.Fprintln(stderr, "Error: gate requires --evaluate, --override or --approve")
		return exitRuntimeError
	}
}

func runGateEvaluate(store *state.Store, auditLog *audit.Log, stateDir, personaPath, name, metricsJSON string, stdout, stderr io.Writer, jsonOut bool) int {
	if personaPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --persona is required with --evaluate")
		return exitRuntimeError
	}
	raw, err := os.ReadFile(personaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read persona: %v\n", err)
		return exitRuntimeError
	}
	doc, err := persona.Load(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load persona: %v\n", err)
		return exitRuntimeError
	}

	samples, err := parseMetricsJSON(metricsJSON)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --metrics-json: %v\n", err)
		return exitRuntimeError
	}

	current, err := store.Read(name)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read state: %v\n", err)
		return exitRuntimeError
	}

	remaining, expired := elevation.ExpireAll(current.ActiveElevations, time.Now())
	current.ActiveElevations = remaining
	for _, e := range expired {
		if err := auditLog.Append(audit.Event{
			Subject: name, Action: e.ElevationID, Type: audit.EntryElevation,
			Payload: map[string]interface{}{"action": "expired", "elevation_id": e.ElevationID},
		}); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: audit expired elevation: %v\n", err)
			return exitRuntimeError
		}
	}

	evaluator := gate.NewEvaluator(doc.Gates, metrics.StaticProvider{Samples: samples})
	outcome, err := evaluator.Evaluate(context.Background(), current)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: evaluate: %v\n", err)
		return exitRuntimeError
	}

	if err := recordDrift(stateDir, name, samples, outcome, current.StateRev); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: drift ledger: %v\n", err)
		return exitRuntimeError
	}

	if outcome.Observed {
		if jsonOut {
			_ = json.NewEncoder(stdout).Encode(outcome)
		} else {
			_, _ = fmt.Fprintf(stdout, "observed: gate %s would fire (observe-only, no transition applied)\n", outcome.Fired.ID)
		}
		return exitObserveOnly
	}

	if !outcome.Transitioned && outcome.Pending == nil {
		if jsonOut {
			_ = json.NewEncoder(stdout).Encode(outcome)
		} else {
			_, _ = fmt.Fprintln(stdout, "no gate fired")
		}
		return exitNoMatch
	}

	next, err := store.Mutate(context.Background(), name, current.StateRev, func(cur gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		cur.ActiveElevations = remaining
		if outcome.Transitioned {
			cur.CurrentPhase = outcome.Transition.ToPhase
			if cur.LastTransition == nil {
				cur.LastTransition = map[string]*gate.Transition{}
			}
			cur.LastTransition[outcome.Fired.ID] = outcome.Transition
			cur.PendingTransition = nil
		} else {
			cur.PendingTransition = outcome.Pending
		}
		return cur, audit.Event{
			Subject: name, Action: outcome.Fired.ID, Type: audit.EntryTransition,
			Payload: map[string]interface{}{"metrics_hash": outcome.MetricsHash, "transitioned": outcome.Transitioned},
		}, nil
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: commit state: %v\n", err)
		return exitRuntimeError
	}

	if jsonOut {
		_ = json.NewEncoder(stdout).Encode(map[string]interface{}{"outcome": outcome, "state": next})
	} else if outcome.Transitioned {
		_, _ = fmt.Fprintf(stdout, "transitioned: %s -> %s\n", outcome.Transition.FromPhase, outcome.Transition.ToPhase)
	} else {
		_, _ = fmt.Fprintf(stdout, "pending approval: gate %s\n", outcome.Pending.GateID)
	}

	if outcome.Transitioned {
		return exitOK
	}
	return exitNeedsApproval
}

// parseMetricsJSON decodes a flat JSON object of metric name -> value into
// the typed samples the Metrics Interface expects. Absent --metrics-json,
// returns nil: every candidate gate's criteria then fails with a
// metrics.NotFoundError, which the evaluator treats as not-passing rather
// than aborting.
func parseMetricsJSON(s string) (map[string]metrics.Sample, error) {
	if s == "" {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]metrics.Sample, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			out[k] = metrics.Sample{Metric: k, Kind: metrics.KindFloat, Float: val}
		case bool:
			out[k] = metrics.Sample{Metric: k, Kind: metrics.KindBool, Bool: val}
		case string:
			out[k] = metrics.Sample{Metric: k, Kind: metrics.KindString, String: val}
		default:
			return nil, fmt.Errorf("metric %q: unsupported value type %T", k, v)
		}
	}
	return out, nil
}

// recordDrift appends the metrics considered during this evaluation tick
// (plus any per-gate metric errors) to <name>.drift.jsonl.
// A no-op when stateDir is empty, so tests that evaluate without a
// filesystem-backed drift ledger are unaffected.
func recordDrift(stateDir, name string, samples map[string]metrics.Sample, outcome gate.Outcome, stateRev int64) error {
	if stateDir == "" {
		return nil
	}
	ledger, err := drift.Open(stateDir + "/" + name + ".drift.jsonl")
	if err != nil {
		return err
	}
	snapshot := make(map[string]interface{}, len(samples)+1)
	for k, s := range samples {
		switch s.Kind {
		case metrics.KindFloat:
			snapshot[k] = s.Float
		case metrics.KindBool:
			snapshot[k] = s.Bool
		case metrics.KindString:
			snapshot[k] = s.String
		default:
			snapshot[k] = s.Int
		}
	}
	if len(outcome.MetricErrors) > 0 {
		errs := make(map[string]interface{}, len(outcome.MetricErrors))
		for id, e := range outcome.MetricErrors {
			errs[id] = e
		}
		snapshot["_errors"] = errs
	}

	entry := drift.Entry{MetricsHash: outcome.MetricsHash, StateRev: stateRev}
	if outcome.Fired != nil {
		entry.GateID = outcome.Fired.ID
		entry.Direction = string(outcome.Fired.Direction)
	}
	return ledger.RecordEntry(snapshot, entry)
}

func runGateOverride(store *state.Store, personaPath, name, gateID, toPhase, approver, reason, metricsJSON string, approverLevel approval.Level, stdout, stderr io.Writer, jsonOut bool) int {
	if personaPath == "" || gateID == "" || approver == "" || reason == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --persona, --gate, --approver and --reason are required with --override")
		return exitRuntimeError
	}
	samples, err := parseMetricsJSON(metricsJSON)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --metrics-json: %v\n", err)
		return exitRuntimeError
	}
	raw, err := os.ReadFile(personaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read persona: %v\n", err)
		return exitRuntimeError
	}
	doc, err := persona.Load(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load persona: %v\n", err)
		return exitRuntimeError
	}

	var g *persona.Gate
	for i := range doc.Gates {
		if doc.Gates[i].ID == gateID {
			g = &doc.Gates[i]
			break
		}
	}
	if g == nil {
		_, _ = fmt.Fprintf(stderr, "Error: no such gate %q\n", gateID)
		return exitRuntimeError
	}

	current, err := store.Read(name)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read state: %v\n", err)
		return exitRuntimeError
	}

	var provider metrics.Provider
	if samples != nil {
		provider = metrics.StaticProvider{Samples: samples}
	}
	tr, err := override.Apply(context.Background(), *g, doc.Authority.Delegation, provider, current.CurrentPhase, override.Request{
		GateID: gateID, ToPhase: toPhase, Approver: approver, Reason: reason, ApproverLevel: approverLevel,
	}, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDenyOrFail
	}

	_, err = store.Mutate(context.Background(), name, current.StateRev, func(cur gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		cur.CurrentPhase = tr.ToPhase
		if cur.LastTransition == nil {
			cur.LastTransition = map[string]*gate.Transition{}
		}
		t := tr
		cur.LastTransition[gateID] = &t
		cur.PendingTransition = nil
		return cur, audit.Event{
			Subject: name, Action: gateID, Type: audit.EntryOverride,
			Payload: map[string]interface{}{"approver": approver, "reason": reason, "to_phase": tr.ToPhase},
		}, nil
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: commit state: %v\n", err)
		return exitRuntimeError
	}

	if jsonOut {
		_ = json.NewEncoder(stdout).Encode(tr)
	} else {
		_, _ = fmt.Fprintf(stdout, "override applied: -> %s (approver=%s)\n", tr.ToPhase, tr.Approver)
	}
	return exitOK
}

// runGateApprove submits one approval toward gateID's pending human/quorum
// transition and, once RecordApproval reports the requirement satisfied,
// applies the transition via the same store.Mutate path --evaluate uses.
// This is the only reachable way to advance a pending_human/pending_quorum
// gate outside of --override.
func runGateApprove(store *state.Store, name, gateID, approver string, stdout, stderr io.Writer, jsonOut bool) int {
	if gateID == "" || approver == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --gate and --approver (or --approver-token) are required with --approve")
		return exitRuntimeError
	}

	current, err := store.Read(name)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read state: %v\n", err)
		return exitRuntimeError
	}
	if current.PendingTransition == nil || current.PendingTransition.GateID != gateID {
		_, _ = fmt.Fprintf(stderr, "Error: no pending transition for gate %q\n", gateID)
		return exitRuntimeError
	}

	var satisfied bool
	var applied *gate.Transition
	next, err := store.Mutate(context.Background(), name, current.StateRev, func(cur gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		if cur.PendingTransition == nil || cur.PendingTransition.GateID != gateID {
			return gate.PhaseState{}, audit.Event{}, fmt.Errorf("no pending transition for gate %q", gateID)
		}
		pending := cur.PendingTransition
		satisfied = gate.RecordApproval(pending, approver)
		if !satisfied {
			return cur, audit.Event{
				Subject: name, Action: gateID, Type: audit.EntryDecision,
				Payload: map[string]interface{}{"approver": approver, "metrics_hash": pending.MetricsHash, "satisfied": false},
			}, nil
		}

		t := gate.Transition{
			GateID: gateID, FromPhase: cur.CurrentPhase, ToPhase: pending.ToPhase,
			Direction: pending.Direction, MetricsHash: pending.MetricsHash,
			At: time.Now(), Approver: approver,
		}
		if cur.LastTransition == nil {
			cur.LastTransition = map[string]*gate.Transition{}
		}
		cur.CurrentPhase = t.ToPhase
		cur.LastTransition[gateID] = &t
		cur.PendingTransition = nil
		applied = &t
		return cur, audit.Event{
			Subject: name, Action: gateID, Type: audit.EntryTransition,
			Payload: map[string]interface{}{"approver": approver, "metrics_hash": t.MetricsHash, "transitioned": true},
		}, nil
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: commit state: %v\n", err)
		return exitRuntimeError
	}

	if jsonOut {
		_ = json.NewEncoder(stdout).Encode(map[string]interface{}{"satisfied": satisfied, "state": next})
	} else if applied != nil {
		_, _ = fmt.Fprintf(stdout, "approved: %s -> %s\n", applied.FromPhase, applied.ToPhase)
	} else {
		_, _ = fmt.Fprintf(stdout, "approval recorded: gate %s not yet satisfied\n", gateID)
	}

	if applied != nil {
		return exitOK
	}
	return exitNeedsApproval
}

// verifyApproverToken authenticates a signed approver bearer token and
// returns the attested approver identity (an override's or approval's
// approver must be a real, checked identity, not a trusted flag). Only
// LevelHuman or above is accepted here: both consumers (an override,
// which by definition crosses a gate whose criteria are currently
// failing, and a gate approval) require at least a human-grade decision.
func verifyApproverToken(token, keyID, pubKeyB64 string) (approval.Identity, error) {
	if keyID == "" || pubKeyB64 == "" {
		return approval.Identity{}, fmt.Errorf("--approver-keyid and --approver-pubkey are required with --approver-token")
	}
	raw, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return approval.Identity{}, fmt.Errorf("decode --approver-pubkey: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return approval.Identity{}, fmt.Errorf("--approver-pubkey: expected %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	v := approval.NewVerifier(map[string]ed25519.PublicKey{keyID: ed25519.PublicKey(raw)})
	id, err := v.Verify(token, time.Now())
	if err != nil {
		return approval.Identity{}, err
	}
	if !id.Satisfies(approval.LevelHuman) {
		return approval.Identity{}, fmt.Errorf("approver token level too low")
	}
	return id, nil
}
