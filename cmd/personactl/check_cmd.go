package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ampersona-run/persona-core/pkg/action"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Exit codes shared by check/authority/gate/audit. Each
// command defines its own meaning for 1/2/4/5; only 0 (success) and 3
// (runtime/input error) are common across all of them, and authority
// --check also exits 3 for a NeedsApproval verdict.
const (
	exitOK = 0
	exitDenyOrFail = 1
	exitNeedsApproval = 2
	exitRuntimeError = 3
	exitObserveOnly = 4 // gate --evaluate: candidate matched but enforcement is observe-only
	exitSchemaFailure = 2 // check: schema/vocab validation failed
	exitNoMatch = 1 // gate --evaluate: no candidate gate fired
	exitChainBroken = 5 // audit --verify: hash chain or checkpoint signature invalid
)

// runCheckCmd validates a persona document: JSON parse, schema_version
// migration, strict-mode schema validation (all inside persona.Load), and
// a vocabulary pass confirming every action named in allow/deny/scoped
// resolves to a known action.ID (0 = pass,
// 2 = schema/vocab failure).
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var personaPath string
	cmd.StringVar(&personaPath, "persona", "", "Path to persona document (REQUIRED)")
	jsonOut := cmd.Bool("json", false, "Emit JSON output")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if personaPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --persona is required")
		return exitRuntimeError
	}

	raw, err := os.ReadFile(personaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read persona: %v\n", err)
		return exitRuntimeError
	}

	doc, err := persona.Load(raw)
	if err != nil {
		return reportCheckFailure(stdout, stderr, *jsonOut, err)
	}
	if err := checkVocabulary(doc); err != nil {
		return reportCheckFailure(stdout, stderr, *jsonOut, err)
	}

	if *jsonOut {
		_ = json.NewEncoder(stdout).Encode(map[string]interface{}{"ok": true})
	} else {
		_, _ = fmt.Fprintln(stdout, "ok")
	}
	return exitOK
}

// checkVocabulary confirms every action named in the document's
// allow-list, deny-list, and scoped map parses against the closed action
// vocabulary, surfacing the first unknown id it finds.
func checkVocabulary(doc *persona.Document) error {
	for _, id := range doc.Authority.Actions.Allow {
		if _, err := action.Parse(string(id)); err != nil {
			return err
		}
	}
	for _, d := range doc.Authority.Actions.Deny {
		if _, err := action.Parse(string(d.Action)); err != nil {
			return err
		}
	}
	for id := range doc.Authority.Actions.Scoped {
		if _, err := action.Parse(string(id)); err != nil {
			return err
		}
	}
	return nil
}

func reportCheckFailure(stdout, stderr io.Writer, jsonOut bool, err error) int {
	if jsonOut {
		_ = json.NewEncoder(stdout).Encode(map[string]interface{}{"ok": false, "error": err.Error()})
	} else {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitSchemaFailure
}
