// Package drift implements the Drift Ledger: a
// hash-chained log of metric snapshots, parallel to the Audit Log but
// never consulted by the Policy Checker or Gate Evaluator — it exists
// purely to let an operator later reconstruct "what the metrics looked
// like" independent of which gates fired. Structurally identical to
// pkg/audit's chain (same store.AuditStore grounding), kept as a
// separate type so a caller can never accidentally wire drift entries
// into a policy decision.
package drift

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ampersona-run/persona-core/pkg/canonicalize"
)

var ErrChainBroken = errors.New("drift: hash chain is broken")

// Snapshot is one recorded set of metric readings at a point in time
// (`{ts, metrics_snapshot, metrics_hash, state_rev, gate_id?,
// direction?}`).
type Snapshot struct {
	Sequence uint64 `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Samples map[string]interface{} `json:"samples"`
	MetricsHash string `json:"metrics_hash,omitempty"`
	StateRev int64 `json:"state_rev,omitempty"`
	GateID string `json:"gate_id,omitempty"`
	Direction string `json:"direction,omitempty"`
	PreviousHash string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Ledger is a drift ledger backed by a "<name>.drift.jsonl" file.
type Ledger struct {
	mu sync.Mutex
	path string
	sequence uint64
	chainHead string
}

// Open loads (or creates) the ledger at path.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, chainHead: "genesis"}
	entries, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		l.sequence = last.Sequence
		l.chainHead = last.EntryHash
	}
	return l, nil
}

func readAll(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drift: open %s: %w", path, err)
	}
	defer f.Close()

	var out []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("drift: parse entry: %w", err)
		}
		out = append(out, s)
	}
	return out, scanner.Err()
}

// Record appends samples as one new, chained snapshot, with no associated
// gate/transition metadata. Equivalent to RecordEntry with a zero Entry.
func (l *Ledger) Record(samples map[string]interface{}) error {
	return l.RecordEntry(samples, Entry{})
}

// Entry carries the evaluation metadata that accompanies a metric
// snapshot (metrics_hash, state_rev, and — when a gate
// fired or was evaluated as part of this tick — its id and direction).
type Entry struct {
	MetricsHash string
	StateRev int64
	GateID string
	Direction string
}

// RecordEntry appends samples plus meta as one new, chained snapshot.
func (l *Ledger) RecordEntry(samples map[string]interface{}, meta Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	snap := Snapshot{
		Sequence: l.sequence, Timestamp: time.Now().UTC(), Samples: samples,
		MetricsHash: meta.MetricsHash, StateRev: meta.StateRev, GateID: meta.GateID, Direction: meta.Direction,
		PreviousHash: l.chainHead,
	}
	hash, err := snapshotHash(snap)
	if err != nil {
		l.sequence--
		return err
	}
	snap.EntryHash = hash
	l.chainHead = hash

	line, err := json.Marshal(snap)
	if err != nil {
		l.sequence--
		return fmt.Errorf("drift: marshal snapshot: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.sequence--
		return fmt.Errorf("drift: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.sequence--
		return fmt.Errorf("drift: append snapshot: %w", err)
	}
	return f.Sync()
}

func snapshotHash(s Snapshot) (string, error) {
	hashable := map[string]interface{}{
		"sequence": s.Sequence,
		"timestamp": s.Timestamp.Format(time.RFC3339Nano),
		"samples": s.Samples,
		"metrics_hash": s.MetricsHash,
		"state_rev": s.StateRev,
		"gate_id": s.GateID,
		"direction": s.Direction,
		"prev_hash": s.PreviousHash,
	}
	canon, err := canonicalize.JCS(hashable)
	if err != nil {
		return "", fmt.Errorf("drift: canonicalize: %w", err)
	}
	return canonicalize.PrefixedHash(canon), nil
}

// VerifyChain re-verifies every snapshot's hash linkage.
func VerifyChain(path string) error {
	entries, err := readAll(path)
	if err != nil {
		return err
	}
	expected := "genesis"
	for i, e := range entries {
		if e.PreviousHash != expected {
			return fmt.Errorf("%w: entry %d broken link", ErrChainBroken, i)
		}
		computed, err := snapshotHash(e)
		if err != nil {
			return err
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expected = e.EntryHash
	}
	return nil
}

// ReadAll returns every snapshot on disk, in append order.
func ReadAll(path string) ([]Snapshot, error) { return readAll(path) }
