package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sigillum-io/sigillum/pkg/abp"
	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/report"
	"github.com/sigillum-io/sigillum/pkg/schemas"
	"github.com/sigillum-io/sigillum/pkg/sig"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

// Reserved pack filenames that are never the sealed run itself.
var packReserved = map[string]bool{
	"transparency_log.ndjson": true,
	"authority_ledger.ndjson": true,
	"LOG_HEAD.json":           true,
	"abp_v1.json":             true,
}

// PackOptions configure whole-pack verification.
type PackOptions struct {
	Keys       *sig.Keyring
	Threshold  int
	Strict     bool
	RequireABP bool
}

// PackSection is one named group of checks in a pack report.
type PackSection struct {
	Name   string
	Report *report.Report
}

// PackReport aggregates every section verified for one pack directory.
type PackReport struct {
	Dir      string
	Sections []PackSection
	Audit    *AuditReport
}

// Passed reports whether every section passed and the audit found no
// violations (warnings alone do not fail a pack).
func (p *PackReport) Passed() bool {
	for _, s := range p.Sections {
		if !s.Report.Passed() {
			return false
		}
	}
	return p.Audit == nil || p.Audit.Violations() == 0
}

func (p *PackReport) section(name string) *report.Report {
	r := report.New("")
	p.Sections = append(p.Sections, PackSection{Name: name, Report: r})
	return r
}

// VerifyPack auto-discovers the artifacts in a pack directory and runs
// every applicable check: replay with signatures and ledgers, detached
// signature files, log head consistency, ABP verification, and the
// determinism audit.
func VerifyPack(ctx context.Context, dir string, opts PackOptions) *PackReport {
	pack := &PackReport{Dir: dir}
	disc := pack.section("discovery")

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		disc.Addf("pack_dir", false, "not found: %s", dir)
		return pack
	}

	sealedPath := findSealed(dir)
	if sealedPath == "" {
		disc.Fail("sealed_run", "no sealed run found in pack")
		return pack
	}
	disc.Add("sealed_run", true, filepath.Base(sealedPath))

	sigPath := sealedPath + ".sig.json"
	var sigFile *SigFile
	if _, err := os.Stat(sigPath); err == nil {
		sigFile, err = LoadSignature(sigPath)
		disc.Add("signature", err == nil, filepath.Base(sigPath))
	} else {
		disc.Add("signature", opts.Threshold == 0, "not found"+requiredNote(opts.Threshold > 0))
	}

	logPath := filepath.Join(dir, "transparency_log.ndjson")
	var log *translog.Log
	if _, err := os.Stat(logPath); err == nil {
		log = translog.Open(logPath)
		disc.Add("transparency_log", true, "transparency_log.ndjson")
	} else {
		disc.Add("transparency_log", true, "not present (optional)")
	}

	ledgerPath := filepath.Join(dir, "authority_ledger.ndjson")
	var ledger *authority.Ledger
	if _, err := os.Stat(ledgerPath); err == nil {
		ledger = authority.Open(ledgerPath)
		disc.Add("authority_ledger", true, "authority_ledger.ndjson")
	} else {
		disc.Add("authority_ledger", true, "not present (optional)")
	}

	abpPath := filepath.Join(dir, "abp_v1.json")
	_, abpErr := os.Stat(abpPath)
	hasABP := abpErr == nil
	disc.Add("abp", hasABP || !opts.RequireABP, abpNote(hasABP, opts.RequireABP))

	doc, raw, err := LoadSealed(sealedPath)
	if err != nil {
		disc.Fail("sealed_run.parse", err.Error())
		return pack
	}

	pack.Sections = append(pack.Sections, PackSection{
		Name: "replay",
		Report: Replay(ctx, doc, Options{
			Signature:       sigFile,
			Keys:            opts.Keys,
			RequireMultisig: opts.Threshold,
			TransLog:        log,
			AuthLedger:      ledger,
		}),
	})

	if opts.Keys != nil {
		verifyDetachedSignatures(pack, dir, opts.Keys)
	}
	if log != nil {
		verifyLogHead(ctx, pack, dir, log)
	}
	if hasABP {
		verifyPackABP(ctx, pack, abpPath, ledger)
	}

	pack.Audit = AuditDeterminism(doc, raw, opts.Strict)
	return pack
}

// findSealed picks the sealed run out of a pack: the first JSON document
// that carries the sealed-run discriminators and is not a signature,
// manifest, or reserved file.
func findSealed(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasSuffix(name, ".json") ||
			strings.HasSuffix(name, ".sig.json") ||
			strings.HasSuffix(name, ".manifest.json") ||
			packReserved[name] {
			continue
		}
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var probe struct {
			SchemaVersion     string          `json:"schema_version"`
			AuthorityEnvelope json.RawMessage `json:"authority_envelope"`
		}
		if json.Unmarshal(raw, &probe) != nil {
			continue
		}
		if probe.SchemaVersion == "1.0" && len(probe.AuthorityEnvelope) > 0 {
			return path
		}
	}
	return ""
}

// verifyDetachedSignatures checks every *.sig.json in the pack against
// the file it signs.
func verifyDetachedSignatures(pack *PackReport, dir string, keys *sig.Keyring) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.sig.json"))
	if len(matches) == 0 {
		return
	}
	sort.Strings(matches)
	r := pack.section("detached_signatures")

	for _, sigPath := range matches {
		name := filepath.Base(sigPath)
		target := strings.TrimSuffix(sigPath, ".sig.json")
		doc, _, err := LoadSealed(target)
		if err != nil {
			r.Addf("signature.target["+name+"]", false, "missing or unreadable target %s", filepath.Base(target))
			continue
		}
		f, err := LoadSignature(sigPath)
		if err != nil {
			r.Fail("signature.parse["+name+"]", err.Error())
			continue
		}
		var passed bool
		switch {
		case f.Envelope != nil:
			passed = sig.VerifyMultisig(doc, f.Envelope, 0, keys).Passed()
		case f.Block != nil:
			passed = sig.VerifyBlock(doc, f.Block, keys).Passed()
		}
		r.Add("signature.verify["+name+"]", passed, "")
	}
}

// verifyLogHead compares LOG_HEAD.json, when present, against the log's
// recomputed head.
func verifyLogHead(ctx context.Context, pack *PackReport, dir string, log *translog.Log) {
	headPath := filepath.Join(dir, "LOG_HEAD.json")
	raw, err := os.ReadFile(headPath)
	if err != nil {
		return
	}
	r := pack.section("log_head")

	var recorded struct {
		EntryCount int     `json:"entry_count"`
		HeadHash   *string `json:"head_hash"`
	}
	if err := json.Unmarshal(raw, &recorded); err != nil {
		r.Fail("log_head.parse", err.Error())
		return
	}

	head, err := log.Head(ctx, time.Now())
	if err != nil {
		r.Fail("log_head.recompute", err.Error())
		return
	}
	r.Addf("log_head.entry_count", head.EntryCount == recorded.EntryCount,
		"recorded=%d actual=%d", recorded.EntryCount, head.EntryCount)
	r.Add("log_head.head_hash", equalPtr(head.HeadHash, recorded.HeadHash),
		fmt.Sprintf("recorded=%s actual=%s", strPtr(recorded.HeadHash), strPtr(head.HeadHash)))
}

func verifyPackABP(ctx context.Context, pack *PackReport, path string, ledger *authority.Ledger) {
	r := pack.section("abp")
	doc, _, err := LoadSealed(path)
	if err != nil {
		r.Fail("abp.parse", err.Error())
		return
	}
	if err := schemas.ValidateABP(doc); err != nil {
		r.Fail("abp.schema", err.Error())
	} else {
		r.Add("abp.schema", true, "validates against abp_v1")
	}
	r.Merge("", abp.Verify(ctx, doc, ledger))
}

func requiredNote(required bool) string {
	if required {
		return " (required by threshold)"
	}
	return " (optional)"
}

func abpNote(present, required bool) string {
	if present {
		return "abp_v1.json"
	}
	if required {
		return "missing (required)"
	}
	return "not present (optional)"
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtr(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
