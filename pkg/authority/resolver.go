// Package authority implements the meet-semilattice merge of ordered
// authority layers into one resolved, enforceable authority, plus the
// strictly-posterior AuthorityOverlay patch mechanism.
package authority

import (
	"sort"

	"github.com/ampersona-run/persona-core/pkg/action"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Resolved is the merged authority a Policy Checker evaluates against.
// Unlike persona.Authority, Allow/Scoped are resolved into plain sets for
// O(1) policy lookups.
type Resolved struct {
	Autonomy persona.Autonomy
	Scope persona.Scope
	Allow map[action.ID]bool
	Deny map[action.ID]persona.DenyEntry
	Scoped map[action.ID]persona.ScopedConstraint
	Limits persona.Limits
	Delegation persona.Delegation
}

// Layer is one input to the merge, in ascending precedence order: later
// layers narrow autonomy/allow/limits further but can never remove an
// earlier layer's deny entry.
type Layer struct {
	Name string
	Authority persona.Authority
}

// Resolve merges layers in order: autonomy = min across all
// layers, denied = union across all layers, allowed = intersection of
// every layer's allow-list minus the union of denies, limits = min per
// field, scope = intersection of allowed_paths / union of forbidden_paths.
// An empty allow-list on a layer means "inherit the running intersection
// unconstrained" (i.e. the layer does not narrow allow), letting a
// workspace-defaults layer that only sets autonomy/limits coexist with a
// persona layer that actually enumerates actions.
func Resolve(layers []Layer) Resolved {
	out := Resolved{
		Autonomy: persona.AutonomyFull,
		Allow: map[action.ID]bool{},
		Deny: map[action.ID]persona.DenyEntry{},
		Scoped: map[action.ID]persona.ScopedConstraint{},
	}
	firstAllowSeen := false

	limitsSet := false

	for _, l := range layers {
		a := l.Authority

		if a.Autonomy < out.Autonomy {
			out.Autonomy = a.Autonomy
		}

		for _, d := range a.Actions.Deny {
			out.Deny[d.Action] = d
		}

		if len(a.Actions.Allow) > 0 {
			layerSet := make(map[action.ID]bool, len(a.Actions.Allow))
			for _, id := range a.Actions.Allow {
				layerSet[id] = true
			}
			if !firstAllowSeen {
				out.Allow = layerSet
				firstAllowSeen = true
			} else {
				intersected := map[action.ID]bool{}
				for id := range out.Allow {
					if layerSet[id] {
						intersected[id] = true
					}
				}
				out.Allow = intersected
			}
		}

		for id, sc := range a.Actions.Scoped {
			out.Scoped[id] = sc
		}

		out.Limits = mergeLimits(out.Limits, a.Limits, limitsSet)
		limitsSet = true

		out.Scope = mergeScope(out.Scope, a.Scope)

		if len(a.Delegation.CanDelegateTo) > 0 || a.Delegation.MaxDepth > 0 {
			out.Delegation = a.Delegation
		}
	}

	for id := range out.Deny {
		delete(out.Allow, id)
	}

	return out
}

func mergeLimits(running, next persona.Limits, haveRunning bool) persona.Limits {
	if !haveRunning {
		return next
	}
	merged := running
	merged.ActionsPerHour = minNonZero(running.ActionsPerHour, next.ActionsPerHour)
	merged.CostPerDayCents = minNonZero(running.CostPerDayCents, next.CostPerDayCents)
	if next.ApprovalThresholds != nil {
		if merged.ApprovalThresholds == nil {
			merged.ApprovalThresholds = map[persona.RiskLevel]int64{}
		}
		for risk, v := range next.ApprovalThresholds {
			if cur, ok := merged.ApprovalThresholds[risk]; !ok || v < cur {
				merged.ApprovalThresholds[risk] = v
			}
		}
	}
	return merged
}

// minNonZero treats 0 as "unset": the first set value wins until another
// set value is smaller.
func minNonZero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func mergeScope(running persona.Scope, next *persona.Scope) persona.Scope {
	if next == nil {
		return running
	}
	out := running
	out.WorkspaceOnly = out.WorkspaceOnly || next.WorkspaceOnly
	out.ForbiddenPaths = union(out.ForbiddenPaths, next.ForbiddenPaths)
	if len(out.AllowedPaths) == 0 {
		out.AllowedPaths = append([]string(nil), next.AllowedPaths...)
	} else if len(next.AllowedPaths) > 0 {
		out.AllowedPaths = intersect(out.AllowedPaths, next.AllowedPaths)
	}
	return out
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyOverlay applies a strictly-posterior AuthorityOverlay on top of an
// already-resolved authority. Overlay fields REPLACE rather than merge:
// this is the only path by which resolved authority can expand.
func ApplyOverlay(resolved Resolved, overlay *persona.AuthorityOverlay) Resolved {
	if overlay == nil {
		return resolved
	}
	out := resolved
	if overlay.Autonomy != nil {
		out.Autonomy = *overlay.Autonomy
	}
	if overlay.Scope != nil {
		out.Scope = *overlay.Scope
	}
	if len(overlay.Allow) > 0 {
		out.Allow = map[action.ID]bool{}
		for _, id := range overlay.Allow {
			out.Allow[id] = true
		}
	}
	// Deny entries are additive even under an overlay: the overlay may
	// expand what is allowed, never shrink what is explicitly denied.
	for _, d := range overlay.Deny {
		out.Deny[d.Action] = d
	}
	if overlay.Limits != nil {
		out.Limits = *overlay.Limits
	}
	for id := range out.Deny {
		delete(out.Allow, id)
	}
	return out
}

// ApplyElevationGrants unions grant's allow-list into an already-resolved
// authority (an active elevation is additive, unlike
// the meet-semilattice layers Resolve merges). Like ApplyOverlay, an
// explicit deny always wins: a granted action that is also denied stays
// denied.
func ApplyElevationGrants(resolved Resolved, grant persona.Authority) Resolved {
	out := resolved
	if len(grant.Actions.Allow) == 0 {
		return out
	}
	out.Allow = make(map[action.ID]bool, len(resolved.Allow)+len(grant.Actions.Allow))
	for id := range resolved.Allow {
		out.Allow[id] = true
	}
	for _, id := range grant.Actions.Allow {
		if _, denied := out.Deny[id]; !denied {
			out.Allow[id] = true
		}
	}
	return out
}
