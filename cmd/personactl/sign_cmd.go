package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ampersona-run/persona-core/pkg/crypto"
)

func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var inPath, outPath, keyID, fieldsFlag, signer, rootSecretHex string
	cmd.StringVar(&inPath, "in", "", "Path to the JSON document to sign (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Path to write the signed document to (REQUIRED)")
	cmd.StringVar(&keyID, "key-id", "", "Signing key id (REQUIRED)")
	cmd.StringVar(&fieldsFlag, "fields", "", "Comma-separated top-level field names to cover with the signature (REQUIRED)")
	cmd.StringVar(&signer, "signer", "", "Human-readable signer tag")
	cmd.StringVar(&rootSecretHex, "root-secret-hex", "", "Hex-encoded root secret to derive key-id's signing key from (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if inPath == "" || outPath == "" || keyID == "" || fieldsFlag == "" || rootSecretHex == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --in, --out, --key-id, --fields and --root-secret-hex are required")
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

	rootSecret, err := hex.DecodeString(rootSecretHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: decode root secret: %v\n", err)
		return exitRuntimeError
	}
	s, err := crypto.NewDerivedSigner(rootSecret, keyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: derive signer: %v\n", err)
		return exitRuntimeError
	}

	fields := strings.Split(fieldsFlag, ",")
	block, err := crypto.SignDocument(s, doc, fields, signer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sign: %v\n", err)
		return exitRuntimeError
	}

	doc["signature"] = block
	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: marshal signed document: %v\n", err)
		return exitRuntimeError
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write output: %v\n", err)
		return exitRuntimeError
	}

	_, _ = fmt.Fprintf(stdout, "signed %s -> %s (key=%s, public_key=%s)\n", inPath, outPath, keyID, s.PublicKeyHex())
	return exitOK
}
