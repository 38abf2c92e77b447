package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/crypto"
)

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	verify := cmd.Bool("verify", false, "Verify the hash chain (and checkpoint signature, if given) of an audit log")
	var logPath, checkpointPath, pubKeyHex, keyID string
	cmd.StringVar(&logPath, "log", "", "Path to the audit log JSONL file (REQUIRED)")
	cmd.StringVar(&checkpointPath, "checkpoint", "", "Optional signed checkpoint to verify the chain head against")
	cmd.StringVar(&pubKeyHex, "pubkey-hex", "", "Checkpoint signer's public key, hex-encoded (required with --checkpoint)")
	cmd.StringVar(&keyID, "key-id", "", "Checkpoint signer's key id (required with --checkpoint)")
	jsonOut := cmd.Bool("json", false, "Emit JSON output")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if !*verify {
		_, _ = fmt.Fprintln(stderr, "Error: audit requires --verify")
		return exitRuntimeError
	}
	if logPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --log is required")
		return exitRuntimeError
	}

	chainErr := audit.VerifyChain(logPath)

	var checkpointErr error
	if checkpointPath != "" {
		if pubKeyHex == "" || keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --pubkey-hex and --key-id are required with --checkpoint")
			return exitRuntimeError
		}
		cp, err := audit.ReadCheckpoint(checkpointPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read checkpoint: %v\n", err)
			return exitRuntimeError
		}
		ring := crypto.NewKeyRing()
		verifier, err := crypto.NewVerifierFromHex(pubKeyHex, keyID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: decode public key: %v\n", err)
			return exitRuntimeError
		}
		ring.AddKey(verifier, true)
		checkpointErr = audit.VerifyCheckpoint(ring, logPath, cp)
	}

	result := map[string]interface{}{
		"chain_valid": chainErr == nil,
	}
	if chainErr != nil {
		result["chain_error"] = chainErr.Error()
	}
	if checkpointPath != "" {
		result["checkpoint_valid"] = checkpointErr == nil
		if checkpointErr != nil {
			result["checkpoint_error"] = checkpointErr.Error()
		}
	}

	if *jsonOut {
		_ = json.NewEncoder(stdout).Encode(result)
	} else if chainErr == nil && checkpointErr == nil {
		_, _ = fmt.Fprintln(stdout, "audit log chain: OK")
	} else {
		if chainErr != nil {
			_, _ = fmt.Fprintf(stdout, "audit log chain: BROKEN (%v)\n", chainErr)
		}
		if checkpointErr != nil {
			_, _ = fmt.Fprintf(stdout, "checkpoint: INVALID (%v)\n", checkpointErr)
		}
	}

	if chainErr != nil || checkpointErr != nil {
		return exitChainBroken
	}
	return exitOK
}
