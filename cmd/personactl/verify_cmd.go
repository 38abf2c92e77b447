package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ampersona-run/persona-core/pkg/crypto"
)

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var inPath, pubKeyHex, keyID string
	cmd.StringVar(&inPath, "in", "", "Path to the signed JSON document (REQUIRED)")
	cmd.StringVar(&pubKeyHex, "pubkey-hex", "", "Expected signer's public key, hex-encoded (REQUIRED)")
	cmd.StringVar(&keyID, "key-id", "", "Expected signer's key id; defaults to the signature block's own key_id")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if inPath == "" || pubKeyHex == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --in and --pubkey-hex are required")
		return exitRuntimeError
	}

	raw, err := os.ReadFile(inPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return exitRuntimeError
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse input as JSON: %v\n", err)
		return exitRuntimeError
	}
	sigRaw, ok := doc["signature"]
	if !ok {
		_, _ = fmt.Fprintln(stderr, "Error: document has no \"signature\" field")
		return exitRuntimeError
	}
	sigBytes, err := json.Marshal(sigRaw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: re-marshal signature block: %v\n", err)
		return exitRuntimeError
	}
	var block crypto.SignatureBlock
	if err := json.Unmarshal(sigBytes, &block); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse signature block: %v\n", err)
		return exitRuntimeError
	}

	if keyID == "" {
		keyID = block.KeyID
	}
	verifier, err := crypto.NewVerifierFromHex(pubKeyHex, keyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: decode public key: %v\n", err)
		return exitRuntimeError
	}
	ring := crypto.NewKeyRing()
	ring.AddKey(verifier, true)

	verifyErr := crypto.VerifyDocument(ring, doc, &block, "signature")

	if verifyErr == nil {
		_, _ = fmt.Fprintln(stdout, "signature: VALID")
		return exitOK
	}
	_, _ = fmt.Fprintf(stdout, "signature: INVALID (%v)\n", verifyErr)
	return exitDenyOrFail
}
