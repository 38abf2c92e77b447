package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalPersonaJSON = `{
 "schema_version": "1.0.0",
 "name": "ci-reviewer",
 "authority": {
 "autonomy": "supervised",
 "actions": {"allow": ["read_file", "git_commit"]},
 "limits": {},
 "delegation": {}
 },
 "gates": []
}`

func writeTempPersona(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(minimalPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	return path
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl"}, &stdout, &stderr)
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage") {
		t.Errorf("stderr missing usage text: %q", stderr.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRun_CheckValidPersonaPasses(t *testing.T) {
	personaPath := writeTempPersona(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "check", "--persona", personaPath}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}
}

func TestRun_CheckRejectsUnknownVocabularyAction(t *testing.T) {
	const badVocabJSON = `{
	 "schema_version": "1.0.0",
	 "name": "ci-reviewer",
	 "authority": {
	 "autonomy": "supervised",
	 "actions": {"allow": ["frobnicate"]},
	 "limits": {},
	 "delegation": {}
	 },
	 "gates": []
	}`
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(badVocabJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "check", "--persona", path}, &stdout, &stderr)
	if code != exitSchemaFailure {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitSchemaFailure, stderr.String())
	}
}

func TestRun_CheckRejectsInvalidSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(`{"name": "missing-required-fields"}`), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "check", "--persona", path}, &stdout, &stderr)
	if code != exitSchemaFailure {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitSchemaFailure, stderr.String())
	}
}

func TestRun_AuthorityCheckAllowsListedAction(t *testing.T) {
	personaPath := writeTempPersona(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "authority", "--check", "--persona", personaPath, "--action", "read_file"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}
	if !strings.Contains(stdout.String(), "allow") {
		t.Errorf("stdout = %q, want it to contain allow", stdout.String())
	}
}

func TestRun_AuthorityCheckDeniesUnlistedAction(t *testing.T) {
	personaPath := writeTempPersona(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "authority", "--check", "--persona", personaPath, "--action", "deploy"}, &stdout, &stderr)
	if code != exitDenyOrFail {
		t.Fatalf("exit code = %d, want %d", code, exitDenyOrFail)
	}
}

func TestRun_AuthorityCheckRejectsUnknownAction(t *testing.T) {
	personaPath := writeTempPersona(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "authority", "--check", "--persona", personaPath, "--action", "frobnicate"}, &stdout, &stderr)
	if code != exitDenyOrFail {
		t.Fatalf("exit code = %d, want %d", code, exitDenyOrFail)
	}
	if !strings.Contains(stdout.String(), "unknown_action") {
		t.Errorf("stdout = %q, want unknown_action reason", stdout.String())
	}
}

func TestRun_GateEvaluateNoCandidateGatesIsNoMatch(t *testing.T) {
	personaPath := writeTempPersona(t)
	stateDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "gate", "--evaluate",
		"--persona", personaPath, "--state-dir", stateDir, "--name", "agent-1",
	}, &stdout, &stderr)
	if code != exitNoMatch {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitNoMatch, stderr.String())
	}
}

const gatedPersonaJSON = `{
 "schema_version": "1.0.0",
 "name": "ci-reviewer",
 "authority": {
 "autonomy": "supervised",
 "actions": {"allow": ["read_file", "git_commit"]},
 "limits": {},
 "delegation": {}
 },
 "gates": [
 {
 "id": "promote-v1",
 "direction": "promote",
 "enforcement": "enforce",
 "priority": 0,
 "from_phase": "",
 "to_phase": "trusted",
 "criteria": {"all": [{"metric": "test_pass_rate", "op": "gte", "value": 0.95}]},
 "approval": "auto"
 }
 ]
}`

func TestRun_GateEvaluateWithMetricsJSONFiresGateAndRecordsDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(gatedPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	stateDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "gate", "--evaluate",
		"--persona", path, "--state-dir", stateDir, "--name", "agent-1",
		"--metrics-json", `{"test_pass_rate": 0.97}`,
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}
	if !strings.Contains(stdout.String(), "trusted") {
		t.Errorf("stdout = %q, want mention of the trusted phase", stdout.String())
	}

	driftPath := filepath.Join(stateDir, "agent-1.drift.jsonl")
	data, err := os.ReadFile(driftPath)
	if err != nil {
		t.Fatalf("read drift ledger: %v", err)
	}
	if !strings.Contains(string(data), "test_pass_rate") || !strings.Contains(string(data), "promote-v1") {
		t.Errorf("drift ledger = %q, want test_pass_rate sample and gate id", string(data))
	}
}

func TestRun_GateEvaluateWithoutMetricIsNoMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(gatedPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	stateDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "gate", "--evaluate",
		"--persona", path, "--state-dir", stateDir, "--name", "agent-1",
	}, &stdout, &stderr)
	if code != exitNoMatch {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitNoMatch, stderr.String())
	}
}

const humanGatedPersonaJSON = `{
 "schema_version": "1.0.0",
 "name": "ci-reviewer",
 "authority": {
 "autonomy": "supervised",
 "actions": {"allow": ["read_file", "git_commit"]},
 "limits": {},
 "delegation": {}
 },
 "gates": [
 {
 "id": "promote-v1",
 "direction": "promote",
 "enforcement": "enforce",
 "priority": 0,
 "from_phase": "",
 "to_phase": "trusted",
 "criteria": {"all": [{"metric": "test_pass_rate", "op": "gte", "value": 0.95}]},
 "approval": "human"
 }
 ]
}`

func TestRun_GateApproveAppliesPendingHumanTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(humanGatedPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	stateDir := t.TempDir()

	var evalOut, evalErr bytes.Buffer
	code := Run([]string{
		"personactl", "gate", "--evaluate",
		"--persona", path, "--state-dir", stateDir, "--name", "agent-1",
		"--metrics-json", `{"test_pass_rate": 0.97}`,
	}, &evalOut, &evalErr)
	if code != exitNeedsApproval {
		t.Fatalf("evaluate exit code = %d, want %d; stderr=%s", code, exitNeedsApproval, evalErr.String())
	}

	var approveOut, approveErr bytes.Buffer
	code = Run([]string{
		"personactl", "gate", "--approve",
		"--state-dir", stateDir, "--name", "agent-1",
		"--gate", "promote-v1", "--approver", "ops-lead",
	}, &approveOut, &approveErr)
	if code != exitOK {
		t.Fatalf("approve exit code = %d, want %d; stderr=%s", code, exitOK, approveErr.String())
	}
	if !strings.Contains(approveOut.String(), "trusted") {
		t.Errorf("approve stdout = %q, want mention of the trusted phase", approveOut.String())
	}
}

func TestRun_GateApproveRejectsUnknownPending(t *testing.T) {
	stateDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "gate", "--approve",
		"--state-dir", stateDir, "--name", "agent-1",
		"--gate", "no-such-gate", "--approver", "ops-lead",
	}, &stdout, &stderr)
	if code != exitRuntimeError {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitRuntimeError, stderr.String())
	}
}

const elevationPersonaJSON = `{
 "schema_version": "1.0.0",
 "name": "ci-reviewer",
 "authority": {
 "autonomy": "supervised",
 "actions": {"allow": ["read_file"]},
 "limits": {},
 "elevations": [
 {"id": "emergency-deploy", "grants": ["git_push"], "requires": "human", "ttl_seconds": 3600, "reason_required": true}
 ],
 "delegation": {}
 },
 "gates": []
}`

func TestRun_ElevationActivateRecordsGrantAndAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(elevationPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	stateDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "elevation", "--activate",
		"--persona", path, "--state-dir", stateDir, "--name", "agent-1",
		"--elevation", "emergency-deploy", "--approver", "ops-lead", "--reason", "incident-1234",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}

	auditPath := filepath.Join(stateDir, "agent-1.audit.jsonl")
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), `"elevation_id":"emergency-deploy"`) || !strings.Contains(string(data), `"activated"`) {
		t.Errorf("audit log = %q, want an activated elevation entry", string(data))
	}

	statePath := filepath.Join(stateDir, "agent-1.state.json")
	stateData, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if !strings.Contains(string(stateData), "emergency-deploy") {
		t.Errorf("state file = %q, want the active elevation recorded", string(stateData))
	}
}

func TestRun_ElevationActivateRequiresReasonWhenMandated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte(elevationPersonaJSON), 0o644); err != nil {
		t.Fatalf("write persona fixture: %v", err)
	}
	stateDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "elevation", "--activate",
		"--persona", path, "--state-dir", stateDir, "--name", "agent-1",
		"--elevation", "emergency-deploy", "--approver", "ops-lead",
	}, &stdout, &stderr)
	if code != exitDenyOrFail {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitDenyOrFail, stderr.String())
	}
}

func TestRun_AuditVerifyEmptyLogIsOK(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"personactl", "audit", "--verify", "--log", logPath}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}
}

func TestRun_SignThenVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "doc.json")
	out := filepath.Join(dir, "signed.json")
	if err := os.WriteFile(in, []byte(`{"name":"widget","status":"ready"}`), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := Run([]string{
		"personactl", "sign",
		"--in", in, "--out", out,
		"--key-id", "k1",
		"--fields", "name,status",
		"--root-secret-hex", strings.Repeat("ab", 32),
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("sign exit code = %d, want %d; stderr=%s", code, exitOK, stderr.String())
	}

	// Extract the public key this command just printed, to verify against.
	line := stdout.String()
	idx := strings.Index(line, "public_key=")
	if idx == -1 {
		t.Fatalf("sign output missing public_key: %q", line)
	}
	pubKeyHex := strings.TrimSuffix(line[idx+len("public_key="):], ")\n")

	var verifyOut, verifyErr bytes.Buffer
	code = Run([]string{"personactl", "verify", "--in", out, "--pubkey-hex", pubKeyHex}, &verifyOut, &verifyErr)
	if code != exitOK {
		t.Fatalf("verify exit code = %d, want %d; stdout=%s stderr=%s", code, exitOK, verifyOut.String(), verifyErr.String())
	}
	if !strings.Contains(verifyOut.String(), "VALID") {
		t.Errorf("verify stdout = %q, want VALID", verifyOut.String())
	}
}
