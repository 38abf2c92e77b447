package authority

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ampersona-run/persona-core/pkg/persona"
	"gopkg.in/yaml.v3"
)

// WorkspaceDefaultsPath returns the conventional location of the
// workspace-defaults authority layer beneath a workspace root:
// ".ampersona/defaults.json" (or ".yaml"/".yml" if present).
func WorkspaceDefaultsPath(workspaceRoot string) (string, error) {
	dir := filepath.Join(workspaceRoot, ".ampersona")
	for _, name := range []string{"defaults.json", "defaults.yaml", "defaults.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}

// LoadWorkspaceDefaults reads the lowest-precedence authority layer for a
// workspace. It may be authored as JSON or YAML; the extension selects
// the decoder. A missing file yields a permissive zero layer (full
// autonomy, no restrictions) so its absence never narrows resolution —
// the caller still places it first in the layer list for the case where
// it IS present.
func LoadWorkspaceDefaults(workspaceRoot string) (persona.Authority, error) {
	path, err := WorkspaceDefaultsPath(workspaceRoot)
	if os.IsNotExist(err) {
		return persona.Authority{Autonomy: persona.AutonomyFull}, nil
	}
	if err != nil {
		return persona.Authority{}, err
	}
	return LoadAuthorityFile(path)
}

// LoadAuthorityFile decodes a single authority document from disk,
// dispatching on extension: ".yaml"/".yml" via gopkg.in/yaml.v3,
// everything else via encoding/json.
func LoadAuthorityFile(path string) (persona.Authority, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return persona.Authority{}, fmt.Errorf("authority: read %s: %w", path, err)
	}
	var a persona.Authority
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &a); err != nil {
			return persona.Authority{}, fmt.Errorf("authority: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &a); err != nil {
			return persona.Authority{}, fmt.Errorf("authority: parse %s: %w", path, err)
		}
	}
	return a, nil
}
