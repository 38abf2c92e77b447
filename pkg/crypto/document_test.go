package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyDocument_RoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer("k1")
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.AddKey(signer, true)

	doc := map[string]interface{}{
		"name": "alice-agent",
		"version": "1.0.0",
	}
	block, err := SignDocument(signer, doc, []string{"name", "version"}, "ops@example.com")
	require.NoError(t, err)

	doc["signature"] = block
	require.NoError(t, VerifyDocument(ring, doc, block, "signature"))
}

func TestVerifyDocument_DigestMismatchOnMutation(t *testing.T) {
	signer, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	ring := NewKeyRing()
	ring.AddKey(signer, true)

	doc := map[string]interface{}{"name": "alice-agent", "version": "1.0.0"}
	block, err := SignDocument(signer, doc, []string{"name", "version"}, "ops")
	require.NoError(t, err)

	doc["version"] = "2.0.0" // mutate after signing
	doc["signature"] = block
	err = VerifyDocument(ring, doc, block, "signature")
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestVerifyDocument_FieldSetMismatch(t *testing.T) {
	signer, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	ring := NewKeyRing()
	ring.AddKey(signer, true)

	doc := map[string]interface{}{"name": "alice-agent", "version": "1.0.0"}
	block, err := SignDocument(signer, doc, []string{"name"}, "ops")
	require.NoError(t, err)

	doc["signature"] = block
	err = VerifyDocument(ring, doc, block, "signature")
	require.ErrorIs(t, err, ErrFieldSetMismatch)
}

func TestVerifyDocument_UnknownKey(t *testing.T) {
	signer, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	ring := NewKeyRing() // empty ring, key never registered

	doc := map[string]interface{}{"name": "alice-agent"}
	block, err := SignDocument(signer, doc, []string{"name"}, "ops")
	require.NoError(t, err)
	doc["signature"] = block

	err = VerifyDocument(ring, doc, block, "signature")
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestKeyRing_Rotation(t *testing.T) {
	s1, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	s2, err := NewEd25519Signer("k2")
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.AddKey(s1, true)
	active, err := ring.ActiveSigner()
	require.NoError(t, err)
	require.Equal(t, "k1", active.KeyID())

	ring.AddKey(s2, true)
	active, err = ring.ActiveSigner()
	require.NoError(t, err)
	require.Equal(t, "k2", active.KeyID())

	ring.RevokeKey("k1")
	_, ok := ring.Lookup("k1")
	require.False(t, ok)
}

func TestDeriveNamedKey_Deterministic(t *testing.T) {
	root := []byte("root-secret-material-32-bytes!!")
	a, err := DeriveNamedKey(root, "agent-1")
	require.NoError(t, err)
	b, err := DeriveNamedKey(root, "agent-1")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := DeriveNamedKey(root, "agent-2")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
