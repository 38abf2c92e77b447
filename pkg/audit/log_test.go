package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog_AppendAndVerifyChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.audit.jsonl")

	l, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "genesis", l.Head())

	require.NoError(t, l.Append(Event{Subject: "agent", Action: "read_file", Type: EntryDecision}))
	require.NoError(t, l.Append(Event{Subject: "agent", Action: "write_file", Type: EntryDecision}))

	require.NoError(t, VerifyChain(path))
	require.EqualValues(t, 2, l.Sequence())
}

func TestLog_Reopen_ResumesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.audit.jsonl")

	l1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l1.Append(Event{Subject: "agent", Action: "a1", Type: EntryDecision}))
	head := l1.Head()

	l2, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, head, l2.Head())
	require.EqualValues(t, 1, l2.Sequence())
}

func TestVerifyChain_DetectsTamperedEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.audit.jsonl")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{Subject: "agent", Action: "a1", Type: EntryDecision}))
	require.NoError(t, l.Append(Event{Subject: "agent", Action: "a2", Type: EntryDecision}))

	entries, err := ReadAll(path)
	require.NoError(t, err)
	entries[0].Action = "tampered"

	require.NoError(t, writeAllForTest(path, entries))
	require.Error(t, VerifyChain(path))
}
