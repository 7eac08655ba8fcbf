package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
	"github.com/sigillum-io/sigillum/pkg/sig"
)

// runSignCmd signs a sealed artifact with a keyring key, writing the
// detached signature next to the artifact. With --append the existing
// signature file is promoted to a multisig envelope and the new
// signature added to it.
func runSignCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sealedPath string
		keysPath   string
		keyID      string
		signerID   string
		role       string
		appendSig  bool
	)
	cmd.StringVar(&sealedPath, "sealed", "", "Sealed artifact to sign (REQUIRED)")
	cmd.StringVar(&keysPath, "keys", "", "YAML keyring (default $SIGILLUM_KEYS_FILE)")
	cmd.StringVar(&keyID, "key", cfg.SigningKey, "Signing key id from the keyring")
	cmd.StringVar(&signerID, "signer", "", "Signer identity recorded in the signature")
	cmd.StringVar(&role, "role", "operator", "Signer role (operator, witness, auditor)")
	cmd.BoolVar(&appendSig, "append", false, "Append to an existing signature as multisig")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sealedPath == "" || keyID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sealed and --key are required")
		return 2
	}

	keys, err := loadKeys(cfg, keysPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if keys == nil {
		_, _ = fmt.Fprintln(stderr, "Error: no keyring (set --keys or SIGILLUM_KEYS_FILE)")
		return 2
	}
	signer, err := keys.Signer(keyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	doc, _, err := replay.LoadSealed(sealedPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	sigPath := sealedPath + ".sig.json"
	opts := sig.SignOptions{SignerID: signerID, Role: role}
	now := time.Now().UTC()

	var out *replay.SigFile
	if appendSig {
		existing, err := replay.LoadSignature(sigPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --append needs an existing signature: %v\n", err)
			return 2
		}
		env := existing.Envelope
		if env == nil {
			env = sig.Promote(existing.Block)
		}
		env, err = sig.AppendSignature(env, doc, signer, now, opts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out = &replay.SigFile{Envelope: env}
	} else {
		block, err := sig.Sign(doc, signer, now, opts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out = &replay.SigFile{Block: block}
	}

	if err := replay.WriteSignature(sigPath, out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if out.Envelope != nil {
		_, _ = fmt.Fprintf(stdout, "✅ Signed %s (%d signatures)\n", sealedPath, len(out.Envelope.Signatures))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Signed %s\n", sealedPath)
	}
	_, _ = fmt.Fprintf(stdout, "Signature: %s\n", sigPath)
	return 0
}
