package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ampersona-run/persona-core/pkg/crypto"
)

// Checkpoint is the signed anchor persisted to "<name>.integrity.json":
// a cryptographic commitment to the audit chain's head at a point in
// time, so a verifier with only the checkpoint and the log file can
// confirm nothing before Sequence has been altered since signing.
type Checkpoint struct {
	Name string `json:"name"`
	Sequence uint64 `json:"sequence"`
	ChainHead string `json:"chain_head"`
	Signature *crypto.SignatureBlock `json:"signature"`
}

// Checkpoint produces and signs a Checkpoint over the log's current head.
func (l *Log) Checkpoint(name string, signer crypto.Signer) (*Checkpoint, error) {
	doc := map[string]interface{}{
		"name": name,
		"sequence": l.Sequence(),
		"chain_head": l.Head(),
	}
	block, err := crypto.SignDocument(signer, doc, []string{"name", "sequence", "chain_head"}, name)
	if err != nil {
		return nil, fmt.Errorf("audit: sign checkpoint: %w", err)
	}
	return &Checkpoint{Name: name, Sequence: l.Sequence(), ChainHead: l.Head(), Signature: block}, nil
}

// WriteCheckpoint persists cp to path ("<name>.integrity.json").
func WriteCheckpoint(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", " ")
	if err != nil {
		return fmt.Errorf("audit: marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("audit: write checkpoint %s: %w", path, err)
	}
	return nil
}

// ReadCheckpoint loads a Checkpoint from path.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("audit: parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// VerifyCheckpoint checks cp's signature and confirms the log at
// logPath's chain, as of cp.Sequence, still hashes to cp.ChainHead.
func VerifyCheckpoint(ring *crypto.KeyRing, logPath string, cp *Checkpoint) error {
	doc := map[string]interface{}{
		"name": cp.Name,
		"sequence": cp.Sequence,
		"chain_head": cp.ChainHead,
	}
	if err := crypto.VerifyDocument(ring, doc, cp.Signature, "signature"); err != nil {
		return fmt.Errorf("audit: checkpoint signature invalid: %w", err)
	}

	entries, err := readAll(logPath)
	if err != nil {
		return err
	}
	if uint64(len(entries)) < cp.Sequence {
		return fmt.Errorf("%w: log has fewer entries than checkpoint sequence", ErrChainBroken)
	}
	if entries[cp.Sequence-1].EntryHash != cp.ChainHead {
		return fmt.Errorf("%w: chain head at sequence %d does not match checkpoint", ErrChainBroken, cp.Sequence)
	}
	return VerifyChain(logPath)
}
