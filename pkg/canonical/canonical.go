// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization, content addressing, and deterministic identifiers for
// sealed governance artifacts.
//
// Every hash and signature in this module is computed over the canonical
// byte form produced here. Canonicalization sorts map keys, strips
// insignificant whitespace, and renders numbers in ES6 form so that
// 3.0 and 3 canonicalize identically.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// HashPrefix is prepended to every hex digest produced by this package.
const HashPrefix = "sha256:"

// ErrEncoding reports a value that cannot be canonically serialized
// (cyclic structures, channels, funcs). This is always a programming bug,
// never a data condition.
var ErrEncoding = errors.New("canonical: value cannot be encoded")

// Canonicalize returns the RFC 8785 canonical JSON bytes of v.
//
// v is first marshaled with encoding/json (honoring struct tags), then
// transformed to canonical form: lexicographically sorted keys, no
// whitespace, ES6 number serialization.
func Canonicalize(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("%w: jcs transform: %v", ErrEncoding, err)
	}
	return out, nil
}

// Hash returns the content hash of v: "sha256:" + hex(sha256(canonicalize(v))).
func Hash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SHA256Bytes(b), nil
}

// SHA256Bytes computes the prefixed SHA-256 digest of raw bytes.
func SHA256Bytes(data []byte) string {
	h := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(h[:])
}

// SHA256Text computes the prefixed SHA-256 digest of a UTF-8 string.
func SHA256Text(text string) string {
	return SHA256Bytes([]byte(text))
}

// DetIDLength is the number of hex characters carried into a derived id.
const DetIDLength = 8

// DetID derives a deterministic identifier of the form "<PREFIX>-<hex[:8]>"
// from a content hash. It is a pure function of its inputs: re-running a
// pipeline on identical inputs reproduces identical ids byte for byte.
func DetID(prefix, hash string) string {
	h := strings.TrimPrefix(hash, HashPrefix)
	h = strings.ToLower(h)
	if len(h) > DetIDLength {
		h = h[:DetIDLength]
	}
	return prefix + "-" + h
}

// normalize walks generic containers and rewrites values that do not have
// a deterministic JSON form: time.Time becomes a UTC ISO-8601 string with
// a literal Z suffix.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return FormatUTC(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return FormatUTC(*t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// SortedSet renders an unordered set of strings as a sorted, deduplicated
// sequence, the only canonical form a set has.
func SortedSet(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// CloneDoc deep-copies a decoded JSON document.
func CloneDoc(doc map[string]interface{}) map[string]interface{} {
	return cloneValue(doc).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// DropFields removes every field whose name appears in names, at any depth.
// Used to apply a hash scope's exclusion list before recomputing a hash.
func DropFields(doc map[string]interface{}, names ...string) map[string]interface{} {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	return dropWalk(CloneDoc(doc), drop).(map[string]interface{})
}

func dropWalk(v interface{}, drop map[string]struct{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if _, gone := drop[k]; gone {
				delete(t, k)
				continue
			}
			t[k] = dropWalk(val, drop)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = dropWalk(val, drop)
		}
		return t
	default:
		return v
	}
}
