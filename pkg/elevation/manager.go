// Package elevation implements the Elevation Manager:
// activation, TTL expiry, and layering of temporary authority grants
// above persona authority and below explicit deny. An injectable clock
// and a mutex-guarded lifecycle keep activate/expire deterministic and
// safe for concurrent callers.
package elevation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ampersona-run/persona-core/pkg/action"
	"github.com/ampersona-run/persona-core/pkg/gate"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// ErrNotFound is returned when an elevation id has no definition in the
// persona document.
var ErrNotFound = fmt.Errorf("elevation: definition not found")

// ErrReasonRequired is returned when an elevation that requires a reason
// is activated without one.
var ErrReasonRequired = fmt.Errorf("elevation: reason is required")

// Manager activates and expires ActiveElevation records. It holds no
// persisted state itself — callers read/write state.Store's PhaseState
// and pass the current ActiveElevations slice into each call.
type Manager struct {
	mu sync.Mutex
	clock func() time.Time
}

// NewManager returns a Manager using the real clock.
func NewManager() *Manager {
	return &Manager{clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}

// Activate looks up elevationID in defs, validates the reason
// requirement, and returns a new ActiveElevation ready to be appended to
// PhaseState.ActiveElevations.
func (m *Manager) Activate(defs []persona.Elevation, elevationID, approver, reason string) (gate.ActiveElevation, error) {
	var def *persona.Elevation
	for i := range defs {
		if defs[i].ID == elevationID {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		return gate.ActiveElevation{}, fmt.Errorf("%w: %q", ErrNotFound, elevationID)
	}
	if def.ReasonRequired && reason == "" {
		return gate.ActiveElevation{}, fmt.Errorf("%w: elevation %q", ErrReasonRequired, elevationID)
	}

	now := m.now()
	return gate.ActiveElevation{
		ElevationID: elevationID,
		GrantedAt: now,
		ExpiresAt: now.Add(time.Duration(def.TTLSeconds) * time.Second),
		Approver: approver,
		Reason: reason,
	}, nil
}

// ExpireAll splits active into the grants that have not yet expired as of
// now and the ones that have.
func ExpireAll(active []gate.ActiveElevation, now time.Time) (remaining []gate.ActiveElevation, expired []gate.ActiveElevation) {
	for _, e := range active {
		if now.Before(e.ExpiresAt) {
			remaining = append(remaining, e)
		} else {
			expired = append(expired, e)
		}
	}
	return remaining, expired
}

// GrantedActions returns the union of every grant carried by active
// elevations matching defs, as an Authority whose Allow list is meant to
// be unioned into an already-resolved authority via
// authority.ApplyElevationGrants — NOT passed to Resolve as an ordinary
// Layer, which would intersect it against the base allow-list and erase
// the grant instead of adding it.
func GrantedActions(defs []persona.Elevation, active []gate.ActiveElevation) persona.Authority {
	defByID := make(map[string]persona.Elevation, len(defs))
	for _, d := range defs {
		defByID[d.ID] = d
	}
	var allow []action.ID
	for _, a := range active {
		def, ok := defByID[a.ElevationID]
		if !ok {
			continue
		}
		allow = append(allow, def.Grants...)
	}
	return persona.Authority{Autonomy: persona.AutonomyFull, Actions: persona.Actions{Allow: allow}}
}

// NewID returns a fresh identifier suitable for an elevation activation
// audit record.
func NewID() string { return uuid.New().String() }
