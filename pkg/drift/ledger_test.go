package drift

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedger_RecordAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.drift.jsonl")

	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Record(map[string]interface{}{"test_pass_rate": 0.9}))
	require.NoError(t, l.Record(map[string]interface{}{"test_pass_rate": 0.95}))

	require.NoError(t, VerifyChain(path))

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLedger_RecordEntryCarriesGateMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.drift.jsonl")

	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.RecordEntry(
		map[string]interface{}{"test_pass_rate": 0.97},
		Entry{MetricsHash: "abc123", StateRev: 4, GateID: "promote-v1", Direction: "promote"},
	))
	require.NoError(t, VerifyChain(path))

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "promote-v1", entries[0].GateID)
	require.Equal(t, "promote", entries[0].Direction)
	require.Equal(t, "abc123", entries[0].MetricsHash)
	require.Equal(t, int64(4), entries[0].StateRev)
}
