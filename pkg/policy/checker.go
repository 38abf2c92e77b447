// Package policy implements the fixed-precedence, fail-closed decision
// chain that turns a resolved authority plus a proposed action into an
// Allow/Deny/NeedsApproval verdict.
package policy

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ampersona-run/persona-core/pkg/action"
	"github.com/ampersona-run/persona-core/pkg/authority"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Verdict is the checker's outcome.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny Verdict = "deny"
	NeedsApproval Verdict = "needs_approval"
)

// Reason codes name which link of the precedence chain produced Deny,
// for audit/explainability.
type Reason string

const (
	ReasonOK Reason = ""
	ReasonExplicitDeny Reason = "explicit_deny"
	ReasonUnknownAction Reason = "unknown_action"
	ReasonScopedTypeMismatch Reason = "scoped_type_mismatch"
	ReasonScopedViolation Reason = "scoped_constraint_violation"
	ReasonPathScopeViolation Reason = "path_scope_violation"
	ReasonAutonomyFloor Reason = "autonomy_floor"
	ReasonLimitExceeded Reason = "limit_exceeded"
	ReasonNotAllowListed Reason = "not_allow_listed"
	ReasonApprovalRequired Reason = "approval_required"
)

// Decision is the result of Check.
type Decision struct {
	Verdict Verdict
	Reason Reason
	Detail string
	ComplianceTag string
}

// Request is one proposed action to evaluate.
type Request struct {
	Action string
	Path string // empty when the action has no file-system target
	RiskLevel persona.RiskLevel
	ActionsTakenThisHour int64
	CostSoFarTodayCents int64
	// Command is the literal shell command string for a "shell"-scoped
	// action; ignored otherwise.
	Command string
	// GitOp/GitBranch describe a "git"-scoped action's operation
	// (e.g. "push", "force-push") and target branch; ignored otherwise.
	GitOp string
	GitBranch string
}

// Check evaluates req against resolved in the fixed precedence order
//: explicit deny, unknown action, scoped-type failure,
// path scope violation, autonomy floor, limits, allow-list. Everything
// not explicitly allowed is denied (fail-closed).
func Check(resolved authority.Resolved, req Request) Decision {
	if entry, denied := resolved.Deny[action.ID(req.Action)]; denied {
		return Decision{Verdict: Deny, Reason: ReasonExplicitDeny, Detail: entry.Reason, ComplianceTag: entry.ComplianceTag}
	}

	id, err := action.Parse(req.Action)
	if err != nil {
		return Decision{Verdict: Deny, Reason: ReasonUnknownAction, Detail: err.Error()}
	}

	if sc, scoped := resolved.Scoped[id]; scoped {
		if d := checkScoped(sc, req); d.Verdict != Allow {
			return d
		}
	}

	if req.Path != "" {
		if d := checkPathScope(resolved.Scope, req.Path); d.Verdict != Allow {
			return d
		}
	}

	if resolved.Autonomy == persona.AutonomyReadonly && isMutating(id) {
		return Decision{Verdict: Deny, Reason: ReasonAutonomyFloor, Detail: "readonly autonomy forbids mutating actions"}
	}

	if d := checkLimits(resolved, req); d.Verdict != Allow {
		return d
	}

	if !resolved.Allow[id] {
		return Decision{Verdict: Deny, Reason: ReasonNotAllowListed, Detail: "action not in resolved allow-list"}
	}

	if threshold, ok := resolved.Limits.ApprovalThresholds[req.RiskLevel]; ok && threshold <= 0 {
		return Decision{Verdict: NeedsApproval, Reason: ReasonApprovalRequired, Detail: "risk level requires approval"}
	}

	return Decision{Verdict: Allow}
}

func checkScoped(sc persona.ScopedConstraint, req Request) Decision {
	switch sc.Kind {
	case persona.ScopedShell:
		if sc.Shell == nil {
			return Decision{Verdict: Deny, Reason: ReasonScopedTypeMismatch, Detail: "shell constraint missing shell payload"}
		}
		return checkShell(*sc.Shell, req)
	case persona.ScopedGit:
		if sc.Git == nil {
			return Decision{Verdict: Deny, Reason: ReasonScopedTypeMismatch, Detail: "git constraint missing git payload"}
		}
		return checkGit(*sc.Git, req)
	case persona.ScopedFileAccess:
		if sc.FileAccess == nil {
			return Decision{Verdict: Deny, Reason: ReasonScopedTypeMismatch, Detail: "file_access constraint missing file_access payload"}
		}
		return checkFileAccess(*sc.FileAccess, req)
	case persona.ScopedCustom:
		if sc.Custom == nil {
			return Decision{Verdict: Deny, Reason: ReasonScopedTypeMismatch, Detail: "custom constraint missing custom payload"}
		}
	default:
		return Decision{Verdict: Deny, Reason: ReasonScopedTypeMismatch, Detail: "unknown scoped constraint kind"}
	}
	return Decision{Verdict: Allow}
}

// subshellRE matches $(...) command substitution and backtick substitution.
var subshellRE = regexp.MustCompile("\\$\\(|`")

// checkShell applies the scoped shell constraint rules: subshells,
// chained redirects, background operators, and an optional allowed-
// commands list are each independently deniable.
func checkShell(sc persona.ShellConstraint, req Request) Decision {
	cmd := req.Command
	if cmd == "" {
		return Decision{Verdict: Allow}
	}
	if !sc.AllowSubshell && subshellRE.MatchString(cmd) {
		return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "command contains a subshell ($(...) or backticks)"}
	}
	if !sc.AllowRedirect && containsAny(cmd, ">", ">>", "|") {
		return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "command contains a redirect or pipe operator"}
	}
	if !sc.AllowBackground && strings.Contains(cmd, "&") {
		return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "command contains a background operator (&)"}
	}
	if len(sc.AllowedCommands) > 0 {
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "empty command"}
		}
		allowed := false
		for _, c := range sc.AllowedCommands {
			if c == fields[0] {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "command not in allowed_commands: " + fields[0]}
		}
	}
	if !sc.AllowSymlinks && req.Path != "" {
		if info, err := os.Lstat(req.Path); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "path crosses a symlink"}
		}
	}
	return Decision{Verdict: Allow}
}

func containsAny(s string, substrs...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// checkGit applies the operation allowlist and branch-glob matching,
// deny taking priority over allow.
func checkGit(sc persona.GitConstraint, req Request) Decision {
	if req.GitOp != "" && len(sc.AllowedOps) > 0 {
		allowed := false
		for _, op := range sc.AllowedOps {
			if op == req.GitOp {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "git operation not in allowed_ops: " + req.GitOp}
		}
	}
	if req.GitBranch != "" {
		for _, g := range sc.DenyBranches {
			if ok, _ := filepath.Match(g, req.GitBranch); ok {
				return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "branch matches deny_branches: " + g}
			}
		}
		if len(sc.AllowBranches) > 0 {
			allowed := false
			for _, g := range sc.AllowBranches {
				if ok, _ := filepath.Match(g, req.GitBranch); ok {
					allowed = true
					break
				}
			}
			if !allowed {
				return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "branch not in allow_branches"}
			}
		}
	}
	return Decision{Verdict: Allow}
}

// checkFileAccess matches the requested path against read/write/deny
// glob sets; deny_write_globs always takes priority.
func checkFileAccess(sc persona.FileAccessConstraint, req Request) Decision {
	if req.Path == "" {
		return Decision{Verdict: Allow}
	}
	for _, g := range sc.DenyWriteGlobs {
		if ok, _ := filepath.Match(g, req.Path); ok {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "path matches deny_write_globs: " + g}
		}
	}
	globs := sc.WriteGlobs
	if isReadAction(req.Action) {
		globs = sc.ReadGlobs
	}
	if len(globs) > 0 {
		matched := false
		for _, g := range globs {
			if ok, _ := filepath.Match(g, req.Path); ok {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Verdict: Deny, Reason: ReasonScopedViolation, Detail: "path not in configured globs for this action"}
		}
	}
	return Decision{Verdict: Allow}
}

func isReadAction(raw string) bool {
	id, err := action.Parse(raw)
	if err != nil {
		return false
	}
	return id == action.ReadFile || id == action.ReadSecret
}

func checkPathScope(scope persona.Scope, path string) Decision {
	clean := filepath.Clean(path)
	for _, forbidden := range scope.ForbiddenPaths {
		if withinPath(clean, forbidden) {
			return Decision{Verdict: Deny, Reason: ReasonPathScopeViolation, Detail: "path under forbidden_paths: " + forbidden}
		}
	}
	if len(scope.AllowedPaths) > 0 {
		allowed := false
		for _, a := range scope.AllowedPaths {
			if withinPath(clean, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Verdict: Deny, Reason: ReasonPathScopeViolation, Detail: "path not under any allowed_paths entry"}
		}
	}
	if scope.WorkspaceOnly && (filepath.IsAbs(clean) && strings.HasPrefix(clean, "/..")) {
		return Decision{Verdict: Deny, Reason: ReasonPathScopeViolation, Detail: "path escapes workspace"}
	}
	return Decision{Verdict: Allow}
}

func withinPath(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

func checkLimits(resolved authority.Resolved, req Request) Decision {
	if resolved.Limits.ActionsPerHour > 0 && req.ActionsTakenThisHour >= resolved.Limits.ActionsPerHour {
		return Decision{Verdict: Deny, Reason: ReasonLimitExceeded, Detail: "actions_per_hour exceeded"}
	}
	if resolved.Limits.CostPerDayCents > 0 && req.CostSoFarTodayCents >= resolved.Limits.CostPerDayCents {
		return Decision{Verdict: Deny, Reason: ReasonLimitExceeded, Detail: "cost_per_day_cents exceeded"}
	}
	return Decision{Verdict: Allow}
}

func isMutating(id action.ID) bool {
	switch id {
	case action.ReadFile, action.ReadSecret, action.NetworkCall:
		return false
	default:
		return true
	}
}
