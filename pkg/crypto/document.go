package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ampersona-run/persona-core/pkg/canonicalize"
)

// CanonicalizationJCS is the only canonicalization scheme this runtime
// understands, per spec: JCS (RFC 8785 profile: sorted keys, minimal
// escape, shortest numeric form).
const CanonicalizationJCS = "JCS-RFC8785"

// Signature verification failure reasons.
var (
	ErrDigestMismatch = errors.New("crypto: digest mismatch")
	ErrKeyMismatch = errors.New("crypto: unknown or revoked key")
	ErrFieldSetMismatch = errors.New("crypto: signed_fields does not cover every field")
	ErrUnknownCanonicalization = errors.New("crypto: unknown canonicalization scheme")
)

// SignatureBlock is the detached signature block embedded in signed
// documents.
type SignatureBlock struct {
	Algorithm string `json:"algorithm"`
	KeyID string `json:"key_id"`
	Signer string `json:"signer"`
	Canonicalization string `json:"canonicalization"`
	SignedFields []string `json:"signed_fields"`
	CreatedAt string `json:"created_at"`
	Digest string `json:"digest"`
	Value string `json:"value"`
}

// SignDocument produces a detached SignatureBlock over the fields named in
// signedFields. doc is the full document as a generic map; only the keys
// named in signedFields are covered, so a "signature" key is included
// only when signedFields names it. signerTag is a
// human identifier for the signer, distinct
// from the cryptographic key_id.
func SignDocument(s Signer, doc map[string]interface{}, signedFields []string, signerTag string) (*SignatureBlock, error) {
	synthetic := make(map[string]interface{}, len(signedFields))
	for _, f := range signedFields {
		if v, ok := doc[f]; ok {
			synthetic[f] = v
		}
	}

	canon, err := canonicalize.JCS(synthetic)
	if err != nil {
		return nil, fmt.Errorf("crypto: canonicalize for signing: %w", err)
	}
	digest := sha256.Sum256(canon)
	digestHex := "sha256:" + hex.EncodeToString(digest[:])

	sig, err := s.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}

	fields := append([]string(nil), signedFields...)
	sort.Strings(fields)

	return &SignatureBlock{
		Algorithm: "ed25519",
		KeyID: s.KeyID(),
		Signer: signerTag,
		Canonicalization: CanonicalizationJCS,
		SignedFields: fields,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Digest: digestHex,
		Value: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyDocument recomputes the canonical digest over the document's
// non-signature top-level fields and checks it against the signature
// block using a key looked up in the keyring. signatureFieldName is the
// top-level key holding the SignatureBlock itself (e.g. "signature"),
// excluded from the covered-fields check.
func VerifyDocument(ring *KeyRing, doc map[string]interface{}, block *SignatureBlock, signatureFieldName string) error {
	if block.Canonicalization != CanonicalizationJCS {
		return fmt.Errorf("%w: %q", ErrUnknownCanonicalization, block.Canonicalization)
	}

	covered := make(map[string]bool, len(block.SignedFields))
	for _, f := range block.SignedFields {
		covered[f] = true
	}
	for k := range doc {
		if k == signatureFieldName {
			continue
		}
		if !covered[k] {
			return fmt.Errorf("%w: field %q not covered by signed_fields", ErrFieldSetMismatch, k)
		}
	}

	verifier, ok := ring.Lookup(block.KeyID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyMismatch, block.KeyID)
	}

	synthetic := make(map[string]interface{}, len(block.SignedFields))
	for _, f := range block.SignedFields {
		if v, ok := doc[f]; ok {
			synthetic[f] = v
		}
	}
	canon, err := canonicalize.JCS(synthetic)
	if err != nil {
		return fmt.Errorf("crypto: canonicalize for verification: %w", err)
	}
	digest := sha256.Sum256(canon)
	digestHex := "sha256:" + hex.EncodeToString(digest[:])
	if digestHex != block.Digest {
		return fmt.Errorf("%w: computed %s, recorded %s", ErrDigestMismatch, digestHex, block.Digest)
	}

	sig, err := base64.StdEncoding.DecodeString(block.Value)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	if !verifier.Verify(digest[:], sig) {
		return fmt.Errorf("%w: signature does not verify under key %q", ErrDigestMismatch, block.KeyID)
	}
	return nil
}
