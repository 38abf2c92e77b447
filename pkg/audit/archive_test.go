package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	require.Equal(t, "agent.integrity.json", ObjectKey("", "agent", ".integrity.json"))
	require.Equal(t, "backups/agent.audit.jsonl", ObjectKey("backups", "agent", ".audit.jsonl"))
}

func TestNewArchiveSink_RequiresBucket(t *testing.T) {
	_, err := NewArchiveSink(context.Background(), "", "prefix")
	require.Error(t, err)
}
