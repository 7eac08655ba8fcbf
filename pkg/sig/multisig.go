package sig

import "time"

// MultisigVersion is the schema version of a multi-signature envelope.
const MultisigVersion = "1.0"

// SignatureEntry is one signer's contribution inside a multisig envelope.
type SignatureEntry struct {
	SignerID     string  `json:"signer_id"`
	Role         string  `json:"role"`
	Algorithm    string  `json:"algorithm"`
	SigningKeyID string  `json:"signing_key_id"`
	SignedAt     string  `json:"signed_at"`
	Signature    string  `json:"signature"`
	PublicKey    *string `json:"public_key"`
}

// MultisigEnvelope collects signatures over one artifact. The envelope is
// append-only: new signatures join, existing ones are never replaced.
type MultisigEnvelope struct {
	MultisigVersion     string           `json:"multisig_version"`
	ArtifactHash        string           `json:"artifact_hash"`
	Threshold           int              `json:"threshold"`
	Signatures          []SignatureEntry `json:"signatures"`
	WitnessRequirements interface{}      `json:"witness_requirements"`
}

// entryFromBlock lifts a single signature block into envelope format.
func entryFromBlock(b *SignatureBlock) SignatureEntry {
	signerID := b.SignerID
	if signerID == "" {
		signerID = b.SigningKeyID
	}
	role := b.Role
	if role == "" {
		role = "operator"
	}
	return SignatureEntry{
		SignerID:     signerID,
		Role:         role,
		Algorithm:    b.Algorithm,
		SigningKeyID: b.SigningKeyID,
		SignedAt:     b.SignedAt,
		Signature:    b.Signature,
		PublicKey:    b.PublicKey,
	}
}

// Promote wraps a single signature block in a multisig envelope with a
// threshold of one.
func Promote(b *SignatureBlock) *MultisigEnvelope {
	return &MultisigEnvelope{
		MultisigVersion: MultisigVersion,
		ArtifactHash:    b.PayloadBytesSHA256,
		Threshold:       1,
		Signatures:      []SignatureEntry{entryFromBlock(b)},
	}
}

// AppendSignature signs doc with signer and adds the result to env. A nil
// env starts a fresh envelope. Existing signatures are preserved.
func AppendSignature(env *MultisigEnvelope, doc map[string]interface{}, signer Signer, signedAt time.Time, opts SignOptions) (*MultisigEnvelope, error) {
	block, err := Sign(doc, signer, signedAt, opts)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return Promote(block), nil
	}
	env.Signatures = append(env.Signatures, entryFromBlock(block))
	return env, nil
}
