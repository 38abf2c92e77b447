// Package persona defines the persona document's authority and gate
// pillars — the external, immutable input to the runtime.
// Identity/voice fields are carried opaquely in Ext and never interpreted.
package persona

import (
	"encoding/json"
	"fmt"

	"github.com/ampersona-run/persona-core/pkg/action"
)

// Autonomy is the agent's baseline operating mode. Lower values are more
// restrictive; resolution always takes the minimum.
type Autonomy int

const (
	AutonomyReadonly Autonomy = iota
	AutonomySupervised
	AutonomyFull
)

// ParseAutonomy converts the wire string form to Autonomy.
func ParseAutonomy(s string) (Autonomy, bool) {
	switch s {
	case "readonly":
		return AutonomyReadonly, true
	case "supervised":
		return AutonomySupervised, true
	case "full":
		return AutonomyFull, true
	default:
		return 0, false
	}
}

func (a Autonomy) String() string {
	switch a {
	case AutonomyReadonly:
		return "readonly"
	case AutonomySupervised:
		return "supervised"
	case AutonomyFull:
		return "full"
	default:
		return "unknown"
	}
}

// Scope restricts the file-system paths an action may touch.
type Scope struct {
	AllowedPaths []string `json:"allowed_paths,omitempty" yaml:"allowed_paths,omitempty"`
	ForbiddenPaths []string `json:"forbidden_paths,omitempty" yaml:"forbidden_paths,omitempty"`
	WorkspaceOnly bool `json:"workspace_only,omitempty" yaml:"workspace_only,omitempty"`
}

// DenyEntry is one explicit denial, optionally tagged with a compliance
// reference surfaced verbatim in policy decisions.
type DenyEntry struct {
	Action action.ID `json:"action" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ComplianceTag string `json:"compliance_tag,omitempty" yaml:"compliance_tag,omitempty"`
}

// ScopedKind names the closed set of scoped-constraint variants.
type ScopedKind string

const (
	ScopedShell ScopedKind = "shell"
	ScopedGit ScopedKind = "git"
	ScopedFileAccess ScopedKind = "file_access"
	ScopedCustom ScopedKind = "custom"
)

// ShellConstraint restricts a shell-executing action.
type ShellConstraint struct {
	AllowSubshell bool `json:"allow_subshell,omitempty" yaml:"allow_subshell,omitempty"`
	AllowRedirect bool `json:"allow_redirect,omitempty" yaml:"allow_redirect,omitempty"`
	AllowBackground bool `json:"allow_background,omitempty" yaml:"allow_background,omitempty"`
	AllowSymlinks bool `json:"allow_symlinks,omitempty" yaml:"allow_symlinks,omitempty"`
	AllowedCommands []string `json:"allowed_commands,omitempty" yaml:"allowed_commands,omitempty"`
}

// GitConstraint restricts a git-executing action.
type GitConstraint struct {
	AllowedOps []string `json:"allowed_ops,omitempty" yaml:"allowed_ops,omitempty"`
	AllowBranches []string `json:"allow_branches,omitempty" yaml:"allow_branches,omitempty"`
	DenyBranches []string `json:"deny_branches,omitempty" yaml:"deny_branches,omitempty"`
}

// FileAccessConstraint restricts a file-touching action by glob.
type FileAccessConstraint struct {
	ReadGlobs []string `json:"read_globs,omitempty" yaml:"read_globs,omitempty"`
	WriteGlobs []string `json:"write_globs,omitempty" yaml:"write_globs,omitempty"`
	DenyWriteGlobs []string `json:"deny_write_globs,omitempty" yaml:"deny_write_globs,omitempty"`
}

// CustomConstraint carries an opaque, vendor-defined constraint payload
// for custom namespaced actions; the runtime does not interpret Fields.
type CustomConstraint struct {
	Fields map[string]interface{} `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ScopedConstraint is a closed sum type selected by Kind; exactly one of
// the typed fields is populated, matching Kind.
type ScopedConstraint struct {
	Kind ScopedKind `json:"kind" yaml:"kind"`
	Shell *ShellConstraint `json:"shell,omitempty" yaml:"shell,omitempty"`
	Git *GitConstraint `json:"git,omitempty" yaml:"git,omitempty"`
	FileAccess *FileAccessConstraint `json:"file_access,omitempty" yaml:"file_access,omitempty"`
	Custom *CustomConstraint `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// RiskLevel classifies an action for approval-threshold lookups.
type RiskLevel string

const (
	RiskLow RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Limits caps numeric quantities. Zero means "not set" for merge purposes;
// the policy checker enforces only positive caps, so a zero or negative
// value places no limit.
type Limits struct {
	ActionsPerHour int64 `json:"actions_per_hour,omitempty" yaml:"actions_per_hour,omitempty"`
	CostPerDayCents int64 `json:"cost_per_day_cents,omitempty" yaml:"cost_per_day_cents,omitempty"`
	ApprovalThresholds map[RiskLevel]int64 `json:"approval_thresholds,omitempty" yaml:"approval_thresholds,omitempty"`
}

// ApprovalKind names who/what must approve a gate transition or elevation.
type ApprovalKind string

const (
	ApprovalAuto ApprovalKind = "auto"
	ApprovalHuman ApprovalKind = "human"
	ApprovalQuorum ApprovalKind = "quorum"
)

// Elevation declares an emergency/temporary grant a persona may activate.
type Elevation struct {
	ID string `json:"id" yaml:"id"`
	Grants []action.ID `json:"grants" yaml:"grants"`
	Requires ApprovalKind `json:"requires" yaml:"requires"`
	TTLSeconds int64 `json:"ttl_seconds" yaml:"ttl_seconds"`
	ReasonRequired bool `json:"reason_required,omitempty" yaml:"reason_required,omitempty"`
	QuorumSize int `json:"quorum_size,omitempty" yaml:"quorum_size,omitempty"`
}

// Delegation bounds whether/how far this persona may delegate authority.
type Delegation struct {
	CanDelegateTo []string `json:"can_delegate_to,omitempty" yaml:"can_delegate_to,omitempty"`
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
}

// Actions is the allow/deny/scoped action vocabulary layer.
type Actions struct {
	Allow []action.ID `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny []DenyEntry `json:"deny,omitempty" yaml:"deny,omitempty"`
	Scoped map[action.ID]ScopedConstraint `json:"scoped,omitempty" yaml:"scoped,omitempty"`
}

// Authority is one layer of permission.
type Authority struct {
	Autonomy Autonomy `json:"-" yaml:"-"`
	Scope *Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Actions Actions `json:"actions" yaml:"actions"`
	Limits Limits `json:"limits" yaml:"limits"`
	Elevations []Elevation `json:"elevations,omitempty" yaml:"elevations,omitempty"`
	Delegation Delegation `json:"delegation" yaml:"delegation"`
	Ext map[string]interface{} `json:"ext,omitempty" yaml:"ext,omitempty"`
}

// authorityWire is Authority's wire shape: autonomy round-trips as its
// string form rather than the internal iota.
type authorityWire struct {
	Autonomy string `json:"autonomy" yaml:"autonomy"`
	Scope *Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Actions Actions `json:"actions" yaml:"actions"`
	Limits Limits `json:"limits" yaml:"limits"`
	Elevations []Elevation `json:"elevations,omitempty" yaml:"elevations,omitempty"`
	Delegation Delegation `json:"delegation" yaml:"delegation"`
	Ext map[string]interface{} `json:"ext,omitempty" yaml:"ext,omitempty"`
}

func (a Authority) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorityWire{
		Autonomy: a.Autonomy.String(), Scope: a.Scope, Actions: a.Actions,
		Limits: a.Limits, Elevations: a.Elevations, Delegation: a.Delegation, Ext: a.Ext,
	})
}

func (a *Authority) UnmarshalJSON(data []byte) error {
	var w authorityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	auto, ok := ParseAutonomy(w.Autonomy)
	if !ok {
		return fmt.Errorf("persona: unknown autonomy %q", w.Autonomy)
	}
	*a = Authority{
		Autonomy: auto, Scope: w.Scope, Actions: w.Actions,
		Limits: w.Limits, Elevations: w.Elevations, Delegation: w.Delegation, Ext: w.Ext,
	}
	return nil
}

func (a Authority) MarshalYAML() (interface{}, error) {
	return authorityWire{
		Autonomy: a.Autonomy.String(), Scope: a.Scope, Actions: a.Actions,
		Limits: a.Limits, Elevations: a.Elevations, Delegation: a.Delegation, Ext: a.Ext,
	}, nil
}

func (a *Authority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var w authorityWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	auto, ok := ParseAutonomy(w.Autonomy)
	if !ok {
		return fmt.Errorf("persona: unknown autonomy %q", w.Autonomy)
	}
	*a = Authority{
		Autonomy: auto, Scope: w.Scope, Actions: w.Actions,
		Limits: w.Limits, Elevations: w.Elevations, Delegation: w.Delegation, Ext: w.Ext,
	}
	return nil
}

// Document is the full persona document's authority/gates pillars. Identity
// fields are intentionally absent: they are opaque to this runtime and
// owned by the external prompt-rendering collaborator.
type Document struct {
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`
	Name string `json:"name" yaml:"name"`
	Authority Authority `json:"authority" yaml:"authority"`
	Gates []Gate `json:"gates,omitempty" yaml:"gates,omitempty"`
	Ext map[string]interface{} `json:"ext,omitempty" yaml:"ext,omitempty"`
}
