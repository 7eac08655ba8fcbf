package sig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Key is one keyring entry. Secret holds base64 key material: the shared
// secret for HMAC, the seed or private key for Ed25519 signing. PublicKey
// is only needed to verify Ed25519 signatures whose blocks omit it.
type Key struct {
	Algorithm string `yaml:"algorithm"`
	Secret    string `yaml:"secret"`
	PublicKey string `yaml:"public_key"`
}

// Keyring maps key ids to key material.
type Keyring struct {
	Keys map[string]Key `yaml:"keys"`
}

// LoadKeyring reads a YAML keyring file.
func LoadKeyring(path string) (*Keyring, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sig: read keyring: %w", err)
	}
	var kr Keyring
	if err := yaml.Unmarshal(raw, &kr); err != nil {
		return nil, fmt.Errorf("sig: parse keyring %s: %w", path, err)
	}
	if kr.Keys == nil {
		kr.Keys = map[string]Key{}
	}
	return &kr, nil
}

// Resolve looks up key material by id.
func (kr *Keyring) Resolve(keyID string) (Key, bool) {
	if kr == nil {
		return Key{}, false
	}
	k, ok := kr.Keys[keyID]
	return k, ok
}

// Signer builds a signer for the given key id.
func (kr *Keyring) Signer(keyID string) (Signer, error) {
	k, ok := kr.Resolve(keyID)
	if !ok {
		return nil, fmt.Errorf("sig: key %q not in keyring", keyID)
	}
	algo, err := ParseAlgorithm(k.Algorithm)
	if err != nil {
		return nil, err
	}
	switch algo {
	case AlgoEd25519:
		return NewEd25519Signer(keyID, k.Secret)
	default:
		return NewHMACSigner(keyID, k.Secret)
	}
}
