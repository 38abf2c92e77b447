package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/elevation"
	"github.com/ampersona-run/persona-core/pkg/gate"
	"github.com/ampersona-run/persona-core/pkg/persona"
	"github.com/ampersona-run/persona-core/pkg/state"
)

// runElevationCmd activates a persona-declared Elevation, appending the
// granted ActiveElevation to PhaseState and recording an
// audit.EntryElevation{action: "activated"} event. This is the only
// reachable path that can produce an ActiveElevation — without it, a
// grant could only ever appear in PhaseState by hand-editing the state
// file outside the program.
func runElevationCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("elevation", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	activateMode := cmd.Bool("activate", false, "Activate an elevation grant declared in the persona document")
	var personaPath, stateDir, name, elevationID, approver, reason string
	cmd.StringVar(&personaPath, "persona", "", "Path to persona document (REQUIRED)")
	cmd.StringVar(&stateDir, "state-dir", "", "Workspace directory holding <name>.state.json etc. (REQUIRED)")
	cmd.StringVar(&name, "name", "", "Phase-state name (REQUIRED)")
	cmd.StringVar(&elevationID, "elevation", "", "Elevation id to activate (REQUIRED)")
	cmd.StringVar(&approver, "approver", "", "Approver identity recorded on the grant")
	cmd.StringVar(&reason, "reason", "", "Reason for the grant (required if the elevation itself sets reason_required)")
	jsonOut := cmd.Bool("json", false, "Emit JSON output")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if !*activateMode {
		_, _ = fmt.Fprintln(stderr, "Error: elevation requires --activate")
		return exitRuntimeError
	}
	if personaPath == "" || stateDir == "" || name == "" || elevationID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --persona, --state-dir, --name and --elevation are required")
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

	granted, err := elevation.NewManager().Activate(doc.Authority.Elevations, elevationID, approver, reason)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDenyOrFail
	}

	next, err := store.Mutate(context.Background(), name, current.StateRev, func(cur gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		cur.ActiveElevations = append(cur.ActiveElevations, granted)
		return cur, audit.Event{
			Subject: name, Action: elevationID, Type: audit.EntryElevation,
			Payload: map[string]interface{}{
				"action": "activated", "elevation_id": elevationID,
				"approver": approver, "reason": reason,
				"expires_at": granted.ExpiresAt,
			},
		}, nil
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: commit state: %v\n", err)
		return exitRuntimeError
	}

	if *jsonOut {
		_ = json.NewEncoder(stdout).Encode(map[string]interface{}{"elevation": granted, "state": next})
	} else {
		_, _ = fmt.Fprintf(stdout, "activated: %s (expires %s)\n", elevationID, granted.ExpiresAt.Format(time.RFC3339))
	}
	return exitOK
}
