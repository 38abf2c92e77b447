package authority

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ampersona-run/persona-core/pkg/action"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

func TestLoadWorkspaceDefaults_Missing(t *testing.T) {
	a, err := LoadWorkspaceDefaults(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, persona.AutonomyFull, a.Autonomy)
}

func TestLoadWorkspaceDefaults_YAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ampersona"), 0o755))
	body := []byte("autonomy: supervised\nactions:\n allow:\n - read_file\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ampersona", "defaults.yaml"), body, 0o644))

	a, err := LoadWorkspaceDefaults(root)
	require.NoError(t, err)
	require.Equal(t, persona.AutonomySupervised, a.Autonomy)
	require.Equal(t, []action.ID{action.ReadFile}, a.Actions.Allow)
}

func TestLoadWorkspaceDefaults_JSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ampersona"), 0o755))
	body := []byte(`{"autonomy":"readonly","actions":{}}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ampersona", "defaults.json"), body, 0o644))

	a, err := LoadWorkspaceDefaults(root)
	require.NoError(t, err)
	require.Equal(t, persona.AutonomyReadonly, a.Autonomy)
}

func TestLoadAuthorityFile_UnknownPath(t *testing.T) {
	_, err := LoadAuthorityFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
