package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sigillum-io/sigillum/pkg/sig"
)

// ErrNotFound reports a missing artifact or signature file.
var ErrNotFound = errors.New("replay: file not found")

// LoadSealed reads a sealed run document and returns both the decoded
// document and the raw bytes (the audit scans raw text for UUID noise).
func LoadSealed(path string) (map[string]interface{}, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, raw, fmt.Errorf("replay: parse %s: %w", path, err)
	}
	return doc, raw, nil
}

// SigFile is a parsed detached signature: exactly one of Block or
// Envelope is set.
type SigFile struct {
	Block    *sig.SignatureBlock
	Envelope *sig.MultisigEnvelope
}

// LoadSignature reads a .sig.json file, detecting single-block versus
// multisig format by its version discriminator.
func LoadSignature(path string) (*SigFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	var probe struct {
		SigVersion      string `json:"sig_version"`
		MultisigVersion string `json:"multisig_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("replay: parse %s: %w", path, err)
	}

	switch {
	case probe.MultisigVersion != "":
		var env sig.MultisigEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("replay: parse multisig %s: %w", path, err)
		}
		return &SigFile{Envelope: &env}, nil
	case probe.SigVersion != "":
		var block sig.SignatureBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("replay: parse signature %s: %w", path, err)
		}
		return &SigFile{Block: &block}, nil
	}
	return nil, fmt.Errorf("replay: unknown signature format in %s", path)
}

// WriteSignature persists a signature file next to its artifact.
func WriteSignature(path string, f *SigFile) error {
	var v interface{}
	switch {
	case f.Envelope != nil:
		v = f.Envelope
	case f.Block != nil:
		v = f.Block
	default:
		return errors.New("replay: empty signature file")
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("replay: write %s: %w", path, err)
	}
	return nil
}
