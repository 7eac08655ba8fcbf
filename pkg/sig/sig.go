// Package sig produces and verifies detached signatures over sealed
// governance artifacts. Signatures are always computed over the canonical
// JSON bytes of the payload, never the raw file bytes, so formatting
// differences do not invalidate a signature.
package sig

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/canonical"
)

// SigVersion is the schema version of a single signature block.
const SigVersion = "1.0"

// Algorithm is a closed set; unknown values are rejected at parse time.
type Algorithm string

const (
	AlgoHMACSHA256 Algorithm = "hmac-sha256"
	AlgoEd25519    Algorithm = "ed25519"
)

// ParseAlgorithm validates an algorithm name. "hmac" is accepted as an
// alias for hmac-sha256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "hmac", string(AlgoHMACSHA256):
		return AlgoHMACSHA256, nil
	case string(AlgoEd25519):
		return AlgoEd25519, nil
	}
	return "", fmt.Errorf("sig: unknown algorithm %q", s)
}

// ErrBadKey reports key material that cannot be decoded or is the wrong
// size for its algorithm.
var ErrBadKey = errors.New("sig: bad key material")

// Signer signs canonical payload bytes.
type Signer interface {
	KeyID() string
	Algorithm() Algorithm
	// Sign returns the base64 signature and, for asymmetric algorithms,
	// the base64 public key.
	Sign(payload []byte) (signature string, publicKey *string, err error)
}

// HMACSigner signs with HMAC-SHA256 over a shared secret.
type HMACSigner struct {
	keyID string
	key   []byte
}

// NewHMACSigner builds an HMAC signer from a base64 secret.
func NewHMACSigner(keyID, keyB64 string) (*HMACSigner, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrBadKey)
	}
	return &HMACSigner{keyID: keyID, key: key}, nil
}

func (s *HMACSigner) KeyID() string        { return s.keyID }
func (s *HMACSigner) Algorithm() Algorithm { return AlgoHMACSHA256 }

func (s *HMACSigner) Sign(payload []byte) (string, *string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil, nil
}

// Ed25519Signer signs with Ed25519. The block carries the public key so
// verifiers do not need out-of-band distribution.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a base64 seed (32 bytes) or a
// full base64 private key (64 bytes).
func NewEd25519Signer(keyID, keyB64 string) (*Ed25519Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return &Ed25519Signer{keyID: keyID, priv: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &Ed25519Signer{keyID: keyID, priv: ed25519.PrivateKey(raw)}, nil
	}
	return nil, fmt.Errorf("%w: ed25519 key must be %d or %d bytes, got %d",
		ErrBadKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
}

func (s *Ed25519Signer) KeyID() string        { return s.keyID }
func (s *Ed25519Signer) Algorithm() Algorithm { return AlgoEd25519 }

func (s *Ed25519Signer) Sign(payload []byte) (string, *string, error) {
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload))
	pub := base64.StdEncoding.EncodeToString(s.priv.Public().(ed25519.PublicKey))
	return sig, &pub, nil
}

// SignatureBlock is a detached single signature over one artifact.
type SignatureBlock struct {
	SigVersion               string  `json:"sig_version"`
	Algorithm                string  `json:"algorithm"`
	SigningKeyID             string  `json:"signing_key_id"`
	SignedAt                 string  `json:"signed_at"`
	PayloadType              string  `json:"payload_type"`
	PayloadCommitHash        string  `json:"payload_commit_hash"`
	PayloadBytesSHA256       string  `json:"payload_bytes_sha256"`
	Signature                string  `json:"signature"`
	PublicKey                *string `json:"public_key"`
	VerificationInstructions string  `json:"verification_instructions"`
	SignerID                 string  `json:"signer_id,omitempty"`
	Role                     string  `json:"role,omitempty"`
	SignerType               string  `json:"signer_type,omitempty"`
}

// SignOptions carry signer identity beyond the key itself.
type SignOptions struct {
	PayloadType string
	SignerID    string
	Role        string
	SignerType  string
}

// Sign builds a signature block for doc. The commit hash and payload
// hash are derived from doc's canonical bytes; signedAt is supplied
// explicitly so callers control the clock.
func Sign(doc map[string]interface{}, signer Signer, signedAt time.Time, opts SignOptions) (*SignatureBlock, error) {
	payload, err := canonical.Canonicalize(doc)
	if err != nil {
		return nil, err
	}

	signature, publicKey, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	payloadType := opts.PayloadType
	if payloadType == "" {
		payloadType = "sealed_run"
	}

	commitHash, _ := doc["commit_hash"].(string)
	return &SignatureBlock{
		SigVersion:               SigVersion,
		Algorithm:                string(signer.Algorithm()),
		SigningKeyID:             signer.KeyID(),
		SignedAt:                 canonical.FormatUTC(signedAt),
		PayloadType:              payloadType,
		PayloadCommitHash:        commitHash,
		PayloadBytesSHA256:       canonical.SHA256Bytes(payload),
		Signature:                signature,
		PublicKey:                publicKey,
		VerificationInstructions: "Verify with: sigillum verify --file <artifact> --sig <artifact>.sig.json",
		SignerID:                 opts.SignerID,
		Role:                     opts.Role,
		SignerType:               opts.SignerType,
	}, nil
}

func verifyHMAC(payload []byte, sigB64, keyB64 string) bool {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

func verifyEd25519(payload []byte, sigB64, pubB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
