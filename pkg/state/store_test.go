package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ampersona-run/persona-core/pkg/audit"
	"github.com/ampersona-run/persona-core/pkg/gate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	lock := NewFileLockBackend(func(name string) string {
		return filepath.Join(dir, name+".state.lock")
	})
	auditLog, err := audit.Open(filepath.Join(dir, "agent.audit.jsonl"))
	require.NoError(t, err)
	return NewStore(dir, lock, auditLog)
}

func TestStore_ReadMissingReturnsZeroState(t *testing.T) {
	s := newTestStore(t)
	ps, err := s.Read("agent")
	require.NoError(t, err)
	require.EqualValues(t, 0, ps.StateRev)
}

func TestStore_MutateAppliesAndIncrementsRev(t *testing.T) {
	s := newTestStore(t)
	out, err := s.Mutate(context.Background(), "agent", 0, func(current gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		current.CurrentPhase = "probation"
		return current, audit.Event{Subject: "agent", Action: "init", Type: audit.EntryStateChange}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "probation", out.CurrentPhase)
	require.EqualValues(t, 1, out.StateRev)

	reloaded, err := s.Read("agent")
	require.NoError(t, err)
	require.Equal(t, "probation", reloaded.CurrentPhase)
}

func TestStore_MutateRejectsStaleRev(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Mutate(context.Background(), "agent", 0, func(current gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		current.CurrentPhase = "probation"
		return current, audit.Event{Subject: "agent", Action: "init", Type: audit.EntryStateChange}, nil
	})
	require.NoError(t, err)

	_, err = s.Mutate(context.Background(), "agent", 0, func(current gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		return current, audit.Event{}, nil
	})
	require.ErrorIs(t, err, ErrStaleRev)
}

func TestStore_MutateAppendsAuditEntry(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLockBackend(func(name string) string { return filepath.Join(dir, name+".state.lock") })
	logPath := filepath.Join(dir, "agent.audit.jsonl")
	auditLog, err := audit.Open(logPath)
	require.NoError(t, err)
	s := NewStore(dir, lock, auditLog)

	_, err = s.Mutate(context.Background(), "agent", 0, func(current gate.PhaseState) (gate.PhaseState, audit.Event, error) {
		current.CurrentPhase = "probation"
		return current, audit.Event{Subject: "agent", Action: "init", Type: audit.EntryStateChange}, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, auditLog.Sequence())
	require.NoError(t, audit.VerifyChain(logPath))
}
