package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/canonicalize"
	"github.com/ampersona-run/persona-core/pkg/gate"
)

// ErrStaleRev is returned when the in-memory state_rev a caller read no
// longer matches the state_rev currently on disk — someone else wrote in
// between.
var ErrStaleRev = errors.New("state: stale state_rev, reload and retry")

// ErrCorrupted is returned when a state file fails to parse.
var ErrCorrupted = errors.New("state: file is corrupted")

// Store is the filesystem-backed State Store for one workspace directory.
// Every mutation follows the fixed protocol: lock, read
// and compare state_rev, apply, increment rev, canonicalize, write to a
// temp file, fsync, atomically rename, append an audit entry, unlock.
type Store struct {
	dir string
	lock LockBackend
	audit *audit.Log
}

// NewStore returns a Store rooted at dir, using auditLog for the mandatory
// audit append on every successful mutation.
func NewStore(dir string, lock LockBackend, auditLog *audit.Log) *Store {
	return &Store{dir: dir, lock: lock, audit: auditLog}
}

func (s *Store) statePath(name string) string {
	return filepath.Join(s.dir, name+".state.json")
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.dir, name+".state.lock")
}

// Read loads name's current PhaseState without locking. Callers that
// intend to mutate must use Mutate instead, which takes the lock and
// re-reads under it.
func (s *Store) Read(name string) (gate.PhaseState, error) {
	data, err := os.ReadFile(s.statePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return gate.PhaseState{Name: name, CurrentPhase: "", StateRev: 0}, nil
	}
	if err != nil {
		return gate.PhaseState{}, fmt.Errorf("state: read %s: %w", name, err)
	}
	var ps gate.PhaseState
	if err := json.Unmarshal(data, &ps); err != nil {
		return gate.PhaseState{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, name, err)
	}
	return ps, nil
}

// MutateFunc transforms the current state into the next state. Returning
// an error aborts the mutation: nothing is written and the lock is
// released without a state change; no audit entry is appended.
type MutateFunc func(current gate.PhaseState) (next gate.PhaseState, auditEvent audit.Event, err error)

// Mutate performs one atomic read-modify-write-audit cycle on name
//. expectedRev must match the on-disk state_rev (0 when no
// state file exists yet) or ErrStaleRev is returned without calling fn — an optimistic
// concurrency check for callers holding a stale in-memory copy.
func (s *Store) Mutate(ctx context.Context, name string, expectedRev int64, fn MutateFunc) (gate.PhaseState, error) {
	unlock, err := s.lock.TryLock(ctx, name)
	if err != nil {
		return gate.PhaseState{}, err
	}
	defer func() { _ = unlock() }()

	current, err := s.Read(name)
	if err != nil {
		return gate.PhaseState{}, err
	}
	if current.StateRev != expectedRev {
		return gate.PhaseState{}, fmt.Errorf("%w: have %d, expected %d", ErrStaleRev, current.StateRev, expectedRev)
	}

	next, event, err := fn(current)
	if err != nil {
		return gate.PhaseState{}, err
	}
	next.Name = name
	next.StateRev = current.StateRev + 1

	if err := s.writeAtomic(name, next); err != nil {
		return gate.PhaseState{}, err
	}

	if s.audit != nil {
		if err := s.audit.Append(event); err != nil {
			return gate.PhaseState{}, fmt.Errorf("state: audit append: %w", err)
		}
	}

	return next, nil
}

func (s *Store) writeAtomic(name string, ps gate.PhaseState) error {
	generic, err := toGenericMap(ps)
	if err != nil {
		return err
	}
	canon, err := canonicalize.JCS(generic)
	if err != nil {
		return fmt.Errorf("state: canonicalize: %w", err)
	}

	path := s.statePath(name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("state: open temp file: %w", err)
	}
	if _, err := f.Write(canon); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}

func toGenericMap(ps gate.PhaseState) (map[string]interface{}, error) {
	data, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("state: marshal: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("state: remarshal: %w", err)
	}
	return generic, nil
}
