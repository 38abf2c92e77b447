// Package action implements the ActionId vocabulary: a closed built-in set
// plus a namespaced custom form, with validation and Deny{unknown_action}
// reporting.
package action

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ID is a validated action identifier.
type ID string

// Built-in action set: read_file, write_file, run_command, deploy,
// git_push, and the rest of the closed enum below.
const (
	ReadFile ID = "read_file"
	WriteFile ID = "write_file"
	DeleteFile ID = "delete_file"
	RunCommand ID = "run_command"
	Deploy ID = "deploy"
	GitPush ID = "git_push"
	GitCommit ID = "git_commit"
	GitBranch ID = "git_branch"
	NetworkCall ID = "network_call"
	SendMessage ID = "send_message"
	ReadSecret ID = "read_secret"
	Delegate ID = "delegate"
)

var builtins = map[ID]bool{
	ReadFile: true, WriteFile: true, DeleteFile: true, RunCommand: true,
	Deploy: true, GitPush: true, GitCommit: true, GitBranch: true,
	NetworkCall: true, SendMessage: true, ReadSecret: true, Delegate: true,
}

const customPrefix = "custom:"

var namespaceRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrUnknownAction reports an action identifier outside the built-in set
// and not matching the custom namespaced grammar.
type ErrUnknownAction struct {
	Raw string
	Suggestion string
}

func (e *ErrUnknownAction) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("action: unknown action %q (did you mean %q?)", e.Raw, e.Suggestion)
	}
	return fmt.Sprintf("action: unknown action %q", e.Raw)
}

// Parse validates raw and returns a typed ID, or an *ErrUnknownAction
// carrying an edit-distance suggestion against the built-in set.
func Parse(raw string) (ID, error) {
	if builtins[ID(raw)] {
		return ID(raw), nil
	}
	if vendor, name, ok := splitCustom(raw); ok {
		if namespaceRE.MatchString(vendor) && namespaceRE.MatchString(name) {
			return ID(raw), nil
		}
	}
	return "", &ErrUnknownAction{Raw: raw, Suggestion: suggest(raw)}
}

// IsCustom reports whether id is a namespaced custom action.
func IsCustom(id ID) bool {
	_, _, ok := splitCustom(string(id))
	return ok
}

func splitCustom(raw string) (vendor, name string, ok bool) {
	if !strings.HasPrefix(raw, customPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(raw, customPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// suggest returns the closest built-in action by Levenshtein distance, or
// "" if nothing is close enough to be a plausible typo.
func suggest(raw string) string {
	const maxDistance = 3
	best := ""
	bestDist := maxDistance + 1

	names := make([]string, 0, len(builtins))
	for id := range builtins {
		names = append(names, string(id))
	}
	sort.Strings(names) // deterministic tie-break

	for _, name := range names {
		d := levenshtein(raw, name)
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	if bestDist > maxDistance {
		return ""
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
