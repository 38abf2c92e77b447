package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/authority"
	"github.com/ampersona-run/persona-core/pkg/elevation"
	"github.com/ampersona-run/persona-core/pkg/persona"
	"github.com/ampersona-run/persona-core/pkg/policy"
	"github.com/ampersona-run/persona-core/pkg/state"
)

func runAuthorityCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("authority", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	check := cmd.Bool("check", false, "Resolve the persona's authority and print the result")
	var personaPath, defaultsPath, actionName, stateDir, name string
	cmd.StringVar(&personaPath, "persona", "", "Path to persona document (REQUIRED)")
	cmd.StringVar(&defaultsPath, "defaults", "", "Optional workspace-defaults overlay, applied below the persona layer")
	cmd.StringVar(&actionName, "action", "", "If set, also report the Check verdict for this action")
	cmd.StringVar(&stateDir, "state-dir", "", "Optional phase-state directory, to fold in any active elevation grants")
	cmd.StringVar(&name, "name", "", "Phase-state name (required with --state-dir)")
	jsonOut := cmd.Bool("json", false, "Emit JSON output")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if !*check {
		_, _ = fmt.Fprintln(stderr, "Error: authority requires --check")
		return exitRuntimeError
	}
	if personaPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --persona is required")
		return exitRuntimeError
	}
	if stateDir != "" && name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --name is required with --state-dir")
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

	layers := []authority.Layer{}
	if defaultsPath != "" {
		defaultsAuthority, err := authority.LoadAuthorityFile(defaultsPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitRuntimeError
		}
		layers = append(layers, authority.Layer{Name: "workspace-defaults", Authority: defaultsAuthority})
	}
	layers = append(layers, authority.Layer{Name: "persona", Authority: doc.Authority})

	resolved := authority.Resolve(layers)

	if stateDir != "" {
		lock := state.NewFileLockBackend(func(n string) string { return stateDir + "/" + n + ".state.lock" })
		auditLog, err := audit.Open(stateDir + "/" + name + ".audit.jsonl")
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: open audit log: %v\n", err)
			return exitRuntimeError
		}
		store := state.NewStore(stateDir, lock, auditLog)
		current, err := store.Read(name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read state: %v\n", err)
			return exitRuntimeError
		}
		active, expired := elevation.ExpireAll(current.ActiveElevations, time.Now())
		for _, e := range expired {
			if err := auditLog.Append(audit.Event{
				Subject: name, Action: e.ElevationID, Type: audit.EntryElevation,
				Payload: map[string]interface{}{"action": "expired", "elevation_id": e.ElevationID},
			}); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: audit expired elevation: %v\n", err)
				return exitRuntimeError
			}
		}
		grant := elevation.GrantedActions(doc.Authority.Elevations, active)
		resolved = authority.ApplyElevationGrants(resolved, grant)
	}

	var decision *policy.Decision
	if actionName != "" {
		d := policy.Check(resolved, policy.Request{Action: actionName})
		decision = &d
	}

	if *jsonOut {
		out := map[string]interface{}{"resolved": resolved}
		if decision != nil {
			out["decision"] = decision
		}
		_ = json.NewEncoder(stdout).Encode(out)
	} else {
		_, _ = fmt.Fprintf(stdout, "autonomy: %s\n", resolved.Autonomy)
		_, _ = fmt.Fprintf(stdout, "allow: %v\n", resolved.Allow)
		_, _ = fmt.Fprintf(stdout, "deny: %d entries\n", len(resolved.Deny))
		if decision != nil && decision.Reason != policy.ReasonOK {
			_, _ = fmt.Fprintf(stdout, "decision for %q: %s (%s)\n", actionName, decision.Verdict, decision.Reason)
		} else if decision != nil {
			_, _ = fmt.Fprintf(stdout, "decision for %q: %s\n", actionName, decision.Verdict)
		}
	}

	if decision == nil {
		return exitOK
	}
	// authority --check <action> exits 0 = Allow, 1 = Deny, 3 = NeedsApproval.
	switch decision.Verdict {
	case policy.Allow:
		return exitOK
	case policy.NeedsApproval:
		return exitRuntimeError
	default:
		return exitDenyOrFail
	}
}
