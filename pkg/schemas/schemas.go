// Package schemas embeds the JSON Schemas for sealed artifacts and
// validates documents against them.
package schemas

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var fsys embed.FS

// Schema names accepted by Validate.
const (
	SealedRun   = "sealed_run_v1.json"
	ABP         = "abp_v1.json"
	LedgerEntry = "ledger_entry_v1.json"
)

var (
	once     sync.Once
	compiled map[string]*jsonschema.Schema
	loadErr  error
)

func load() {
	compiler := jsonschema.NewCompiler()
	names := []string{SealedRun, ABP, LedgerEntry}
	for _, name := range names {
		raw, err := fsys.ReadFile("schemas/" + name)
		if err != nil {
			loadErr = fmt.Errorf("schemas: read %s: %w", name, err)
			return
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			loadErr = fmt.Errorf("schemas: add %s: %w", name, err)
			return
		}
	}
	compiled = make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := compiler.Compile(name)
		if err != nil {
			loadErr = fmt.Errorf("schemas: compile %s: %w", name, err)
			return
		}
		compiled[name] = s
	}
}

// Validate checks doc against the named embedded schema. The document is
// round-tripped through encoding/json first so in-memory values with Go
// integer types validate the same as documents read from disk.
func Validate(name string, doc interface{}) error {
	once.Do(load)
	if loadErr != nil {
		return loadErr
	}
	s, ok := compiled[name]
	if !ok {
		return fmt.Errorf("schemas: unknown schema %q", name)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schemas: encode document: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("schemas: decode document: %w", err)
	}
	if err := s.Validate(normalized); err != nil {
		return fmt.Errorf("schemas: %s: %w", name, err)
	}
	return nil
}

// ValidateSealedRun checks a sealed run document.
func ValidateSealedRun(doc interface{}) error { return Validate(SealedRun, doc) }

// ValidateABP checks an ABP document.
func ValidateABP(doc interface{}) error { return Validate(ABP, doc) }

// ValidateLedgerEntry checks one ledger entry.
func ValidateLedgerEntry(doc interface{}) error { return Validate(LedgerEntry, doc) }
