package replay

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/sigillum-io/sigillum/pkg/seal"
)

// AuditLevel grades one determinism check.
type AuditLevel string

const (
	LevelOK   AuditLevel = "ok"
	LevelWarn AuditLevel = "warn"
	LevelFail AuditLevel = "fail"
)

// AuditCheck is one graded determinism finding.
type AuditCheck struct {
	Name   string     `json:"name"`
	Level  AuditLevel `json:"level"`
	Detail string     `json:"detail,omitempty"`
}

// AuditReport grades a sealed run's determinism. Unlike a plain report,
// findings carry a severity: warnings are tolerated in relaxed mode and
// promoted to violations in strict mode.
type AuditReport struct {
	Checks []AuditCheck `json:"checks"`
}

func (a *AuditReport) add(name string, level AuditLevel, detail string) {
	a.Checks = append(a.Checks, AuditCheck{Name: name, Level: level, Detail: detail})
}

// Warnings counts warn-level findings.
func (a *AuditReport) Warnings() int { return a.count(LevelWarn) }

// Violations counts fail-level findings.
func (a *AuditReport) Violations() int { return a.count(LevelFail) }

func (a *AuditReport) count(level AuditLevel) int {
	n := 0
	for _, c := range a.Checks {
		if c.Level == level {
			n++
		}
	}
	return n
}

// ExitCode maps the audit outcome to the process contract: 0 clean,
// 1 warnings, 2 violations.
func (a *AuditReport) ExitCode() int {
	if a.Violations() > 0 {
		return 2
	}
	if a.Warnings() > 0 {
		return 1
	}
	return 0
}

var uuidCandidate = regexp.MustCompile(
	`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{3,4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// AuditDeterminism checks that a sealed run was produced under a fixed
// clock with no nondeterministic residue. raw is the artifact's byte
// content, scanned for stray version-4 UUIDs. In strict mode the findings
// that merely warn in relaxed mode become violations.
func AuditDeterminism(doc map[string]interface{}, raw []byte, strict bool) *AuditReport {
	a := &AuditReport{}
	warnOrFail := LevelWarn
	if strict {
		warnOrFail = LevelFail
	}

	scope, hasScope := doc["hash_scope"].(map[string]interface{})
	if !hasScope {
		a.add("hash_scope.present", LevelFail, "no hash_scope in document")
		return a
	}
	a.add("hash_scope.present", LevelOK, "hash_scope found")

	params := mapAt(scope, "parameters")
	clock, clockFixed := params["clock"].(string)
	if clockFixed && clock != "" {
		a.add("hash_scope.clock_fixed", LevelOK, "clock="+clock)
	} else {
		a.add("hash_scope.clock_fixed", warnOrFail, "clock is null (non-deterministic)")
	}

	if params["deterministic"] == true {
		a.add("hash_scope.deterministic_flag", LevelOK, "deterministic=true")
	} else {
		a.add("hash_scope.deterministic_flag", warnOrFail, "deterministic flag not set")
	}

	if contains(seal.Exclusions(doc), "observed_at") {
		a.add("exclusions.observed_at", LevelOK, "observed_at correctly excluded")
	} else {
		a.add("exclusions.observed_at", LevelFail, "observed_at not in exclusion list")
	}

	commit := str(doc["commit_hash"])
	recordedRun := runID(doc)
	switch {
	case commit == "" || recordedRun == "":
		a.add("ids.run_id_deterministic", LevelWarn, "missing commit_hash or run_id")
	case recordedRun == seal.RunID(commit):
		a.add("ids.run_id_deterministic", LevelOK, "run_id="+recordedRun+" derives from commit_hash")
	default:
		a.add("ids.run_id_deterministic", LevelFail,
			"run_id="+recordedRun+" != expected "+seal.RunID(commit))
	}

	if n := countUUID4(raw); n == 0 {
		a.add("ids.no_uuid", LevelOK, "no UUID v4 patterns found")
	} else {
		a.add("ids.no_uuid", LevelFail, "found version-4 UUID pattern(s)")
	}

	if clockFixed && clock != "" {
		env := mapAt(doc, "authority_envelope")
		committedAt := str(mapAt(env, "authority")["effective_at"])
		if committedAt == clock {
			a.add("timestamps.committed_at_matches_clock", LevelOK, "committed_at="+committedAt)
		} else {
			a.add("timestamps.committed_at_matches_clock", warnOrFail,
				"committed_at="+committedAt+" != clock="+clock)
		}
	}

	if _, ok := doc["inputs_commitments"]; ok {
		a.add("commitments.present", LevelOK, "inputs_commitments found")
	} else {
		a.add("commitments.present", warnOrFail, "no inputs_commitments")
	}

	recomputed, err := seal.ContentHash(doc)
	if err != nil {
		a.add("canonical.json_valid", LevelFail, err.Error())
	} else if recomputed == str(doc["hash"]) {
		a.add("canonical.json_valid", LevelOK, "re-serialization hash matches")
	} else {
		a.add("canonical.json_valid", LevelFail,
			"hash mismatch: "+short(recomputed)+" != "+short(str(doc["hash"])))
	}

	return a
}

// countUUID4 confirms regex candidates by parsing, so hex runs that only
// look like identifiers do not trip the audit.
func countUUID4(raw []byte) int {
	n := 0
	for _, m := range uuidCandidate.FindAllString(string(raw), -1) {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		if id.Version() == 4 && id.Variant() == uuid.RFC4122 {
			n++
		}
	}
	return n
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
