package sig

import (
	"fmt"

	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/report"
)

// VerifyBlock checks a single signature block against doc. Content checks
// (payload hash, commit hash) and the cryptographic check are reported
// separately so a verifier can tell a tampered artifact from a bad key.
func VerifyBlock(doc map[string]interface{}, block *SignatureBlock, keys *Keyring) *report.Report {
	r := report.New(block.SigningKeyID)

	r.Addf("sig.version", block.SigVersion == SigVersion, "version=%s", block.SigVersion)

	payload, err := canonical.Canonicalize(doc)
	if err != nil {
		r.Fail("payload.canonical", err.Error())
		return r
	}

	computed := canonical.SHA256Bytes(payload)
	if computed == block.PayloadBytesSHA256 {
		r.Addf("payload_bytes.hash", true, "matched %s", trunc(computed))
	} else {
		r.Addf("payload_bytes.hash", false, "computed %s != recorded %s",
			trunc(computed), trunc(block.PayloadBytesSHA256))
	}

	if commit, ok := doc["commit_hash"].(string); ok && commit != "" && block.PayloadCommitHash != "" {
		r.Addf("commit_hash.match", commit == block.PayloadCommitHash,
			"artifact=%s sig=%s", trunc(commit), trunc(block.PayloadCommitHash))
	}

	r.Add("signature.crypto", verifyEntry(payload, SignatureEntry{
		Algorithm:    block.Algorithm,
		SigningKeyID: block.SigningKeyID,
		Signature:    block.Signature,
		PublicKey:    block.PublicKey,
	}, keys), "algorithm="+block.Algorithm)

	return r
}

// VerifyMultisig checks every signature in the envelope and enforces the
// quorum: at least threshold valid signatures from distinct key ids. A
// threshold of zero falls back to the envelope's own.
func VerifyMultisig(doc map[string]interface{}, env *MultisigEnvelope, threshold int, keys *Keyring) *report.Report {
	r := report.New("")

	r.Addf("multisig.version", env.MultisigVersion == MultisigVersion,
		"version=%s", env.MultisigVersion)

	payload, err := canonical.Canonicalize(doc)
	if err != nil {
		r.Fail("payload.canonical", err.Error())
		return r
	}

	if threshold <= 0 {
		threshold = env.Threshold
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range env.Signatures {
		valid := verifyEntry(payload, entry, keys)
		r.Addf(fmt.Sprintf("multisig.sig[%d]", i), valid,
			"%s (%s) key=%s", entry.SignerID, entry.Role, entry.SigningKeyID)
		if valid {
			seenKeys[entry.SigningKeyID] = struct{}{}
		}
	}

	// Quorum counts distinct signing keys: a key signing twice still
	// contributes once.
	r.Addf("multisig.quorum", len(seenKeys) >= threshold,
		"%d/%d distinct signing keys", len(seenKeys), threshold)

	return r
}

// verifyEntry resolves key material and checks one signature. Keyring
// entries win; an Ed25519 entry may fall back to its embedded public key.
func verifyEntry(payload []byte, entry SignatureEntry, keys *Keyring) bool {
	algo, err := ParseAlgorithm(entry.Algorithm)
	if err != nil {
		return false
	}

	if keys != nil {
		if key, ok := keys.Resolve(entry.SigningKeyID); ok {
			switch algo {
			case AlgoHMACSHA256:
				return verifyHMAC(payload, entry.Signature, key.Secret)
			case AlgoEd25519:
				pub := key.PublicKey
				if pub == "" && entry.PublicKey != nil {
					pub = *entry.PublicKey
				}
				return verifyEd25519(payload, entry.Signature, pub)
			}
		}
	}

	if algo == AlgoEd25519 && entry.PublicKey != nil {
		return verifyEd25519(payload, entry.Signature, *entry.PublicKey)
	}
	return false
}

func trunc(s string) string {
	if len(s) > 30 {
		return s[:30] + "..."
	}
	return s
}
