// Package audit implements the Audit Log: an append-only,
// hash-chained JSONL file anchored by periodic signed checkpoints.
// Adapted from store.AuditStore (an in-memory hash-chained log) to
// append directly to a "<name>.audit.jsonl" file and to support
// crypto-signed checkpoint anchoring.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ampersona-run/persona-core/pkg/canonicalize"
)

var (
	ErrChainBroken = errors.New("audit: hash chain is broken")
	ErrEntryNotFound = errors.New("audit: entry not found")
)

// EntryType categorizes an audit entry.
type EntryType string

const (
	EntryDecision EntryType = "decision"
	EntryTransition EntryType = "transition"
	EntryOverride EntryType = "override"
	EntryElevation EntryType = "elevation"
	EntryStateChange EntryType = "state_change"
	EntrySignature EntryType = "signature"
)

// Event is one audit-worthy occurrence, prior to hash-chaining.
type Event struct {
	Subject string `json:"subject"`
	Action string `json:"action"`
	Type EntryType `json:"entry_type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Entry is one immutable, hash-chained line of the audit log.
type Entry struct {
	EntryID string `json:"entry_id"`
	Sequence uint64 `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	EntryType EntryType `json:"entry_type"`
	Subject string `json:"subject"`
	Action string `json:"action"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	PreviousHash string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Log is an append-only audit log backed by a JSONL file.
type Log struct {
	mu sync.Mutex
	path string
	sequence uint64
	chainHead string
	clock func() time.Time
}

// Open loads (or creates) the audit log at path, replaying existing
// entries to recover the current sequence and chain head.
func Open(path string) (*Log, error) {
	l := &Log{path: path, chainHead: "genesis", clock: time.Now}
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

func readAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: parse entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return entries, nil
}

// Append computes the next entry's hash and appends it to the log file.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry := Entry{
		EntryID: uuid.New().String(),
		Sequence: l.sequence,
		Timestamp: l.now(),
		EntryType: ev.Type,
		Subject: ev.Subject,
		Action: ev.Action,
		Payload: ev.Payload,
		PreviousHash: l.chainHead,
	}
	hash, err := entryHash(entry)
	if err != nil {
		l.sequence--
		return err
	}
	entry.EntryHash = hash
	l.chainHead = hash

	line, err := json.Marshal(entry)
	if err != nil {
		l.sequence--
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.sequence--
		return fmt.Errorf("audit: open for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.sequence--
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return f.Sync()
}

func (l *Log) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now()
}

// entryHash computes the chained hash over an entry's content (excluding
// the hash field itself), canonicalized per JCS for a stable digest.
func entryHash(e Entry) (string, error) {
	hashable := map[string]interface{}{
		"sequence": e.Sequence,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"entry_type": string(e.EntryType),
		"subject": e.Subject,
		"action": e.Action,
		"payload": e.Payload,
		"prev_hash": e.PreviousHash,
	}
	canon, err := canonicalize.JCS(hashable)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	return canonicalize.PrefixedHash(canon), nil
}

// VerifyChain re-reads the log from disk and verifies every entry's
// prev_hash/entry_hash linkage.
func VerifyChain(path string) error {
	entries, err := readAll(path)
	if err != nil {
		return err
	}
	expectedPrev := "genesis"
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has prev_hash %s, expected %s", ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

// Head returns the current chain head hash ("genesis" if the log is empty).
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chainHead
}

// Sequence returns the current entry count.
func (l *Log) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// ReadAll returns every entry currently on disk, in append order.
func ReadAll(path string) ([]Entry, error) {
	return readAll(path)
}
