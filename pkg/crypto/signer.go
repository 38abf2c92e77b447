// Package crypto provides Ed25519 signing/verification over canonicalized
// documents, key rotation via a KeyRing, and HKDF-derived named subkeys.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer produces detached signatures and exposes its key identity.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	KeyID() string
	PublicKeyHex() string
}

// Verifier checks a detached signature against a named public key.
type Verifier interface {
	Verify(data, signature []byte) bool
	KeyID() string
	PublicKeyHex() string
}

// Ed25519Signer is the default Signer/Verifier implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey ed25519.PublicKey
	keyID string
}

// NewEd25519Signer generates a fresh random keypair under keyID.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSeed builds a deterministic signer from a 32-byte seed,
// typically produced by DeriveNamedKey.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), keyID: keyID}, nil
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privKey, data), nil
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) PublicKeyHex() string { return hex.EncodeToString(s.pubKey) }

func (s *Ed25519Signer) Verify(data, signature []byte) bool {
	return ed25519.Verify(s.pubKey, data, signature)
}

// VerifyHex verifies a hex-encoded public key against raw data and signature,
// for callers that only hold the verifier's advertised identity, not a Verifier.
func VerifyHex(pubKeyHex string, data, signature []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(pubKey, data, signature), nil
}

// hexVerifier is a Verifier built from nothing but an advertised public key
// and key id, for callers (e.g. the CLI) that hold only those two values
// rather than a full keypair.
type hexVerifier struct {
	pubKey ed25519.PublicKey
	keyID string
}

// NewVerifierFromHex builds a Signer/Verifier pair (minus the actual private
// key) from a hex-encoded Ed25519 public key, suitable for registering into
// a KeyRing for VerifyDocument/VerifyCheckpoint. Returned as Signer since
// that is KeyRing.AddKey's parameter type; KeyRing.Lookup recovers the
// Verifier half via its own type assertion.
func NewVerifierFromHex(pubKeyHex, keyID string) (Signer, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	return &hexVerifier{pubKey: pubKey, keyID: keyID}, nil
}

// Sign always fails: hexVerifier holds only a public key, never a private
// one. It exists so a verify-only key can still be registered in a KeyRing,
// whose storage is keyed by the Signer interface.
func (v *hexVerifier) Sign([]byte) ([]byte, error) {
	return nil, fmt.Errorf("crypto: key %q has no private key to sign with", v.keyID)
}

func (v *hexVerifier) Verify(data, signature []byte) bool {
	return ed25519.Verify(v.pubKey, data, signature)
}

func (v *hexVerifier) KeyID() string { return v.keyID }

func (v *hexVerifier) PublicKeyHex() string { return hex.EncodeToString(v.pubKey) }
