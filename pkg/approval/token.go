// Package approval authenticates the "approver" identity consumed by the
// Override Processor and the Gate Evaluator's human/quorum
// approval path. A plain string approver name is
// all the core requires; this package is the optional bridge from a
// signed bearer token to that string, for callers (the CLI, a future
// HTTP front door) that want the approver's identity and delegation
// level cryptographically attested rather than passed as a trusted flag.
package approval

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Level orders approver delegation strength. A gate's approval kind
// (persona.ApprovalAuto/Human/Quorum) maps to the minimum Level an
// approver token must carry for Override preconditions: the approver's
// delegation level must be at least the gate's approval level.
type Level int

const (
	LevelNone Level = iota
	LevelHuman
	LevelQuorum
)

// ParseLevel converts the token claim's wire string to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "human":
		return LevelHuman, true
	case "quorum":
		return LevelQuorum, true
	case "", "none":
		return LevelNone, true
	default:
		return 0, false
	}
}

// Claims is the JWT payload an approver presents. ApproverID is the
// identity recorded verbatim into Transition.Approver and audit events;
// Level gates whether the token satisfies a given gate's approval kind.
type Claims struct {
	jwt.RegisteredClaims
	ApproverID string `json:"approver_id"`
	Level string `json:"level"`
}

// Identity is the verified result of a token check.
type Identity struct {
	ApproverID string
	Level Level
}

// ErrInvalidLevel is returned when a token carries an unrecognized level claim.
var ErrInvalidLevel = errors.New("approval: unrecognized level claim")

// Verifier checks approver bearer tokens against a named Ed25519 public
// key set (keyed by the token's "kid" header, mirroring crypto.KeyRing's
// key_id convention so the same operational key material can back both
// document signing and approver tokens).
type Verifier struct {
	Keys map[string]ed25519.PublicKey
}

// NewVerifier builds a Verifier over a fixed key_id -> public key map.
func NewVerifier(keys map[string]ed25519.PublicKey) *Verifier {
	return &Verifier{Keys: keys}
}

// Verify parses and validates tokenString, checking signature, expiry,
// and the level claim. It never trusts an unsigned or "none"-algorithm
// token, failing closed rather than trusting an unverifiable claim.
func (v *Verifier) Verify(tokenString string, now time.Time) (Identity, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithTimeFunc(func() time.Time { return now }))
	var claims Claims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.Keys[kid]
		if !ok {
			return nil, fmt.Errorf("approval: unknown key_id %q", kid)
		}
		return key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("approval: verify: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("approval: token invalid")
	}
	if claims.ApproverID == "" {
		return Identity{}, fmt.Errorf("approval: missing approver_id claim")
	}
	level, ok := ParseLevel(claims.Level)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidLevel, claims.Level)
	}
	return Identity{ApproverID: claims.ApproverID, Level: level}, nil
}

// Satisfies reports whether an approver's Level meets or exceeds the
// level a gate's approval kind requires.
func (id Identity) Satisfies(required Level) bool {
	return id.Level >= required
}
