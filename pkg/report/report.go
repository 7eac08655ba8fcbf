// Package report provides the check accumulator shared by every verifier.
// Verification never aborts on a failed check: each check records a named
// pass/fail result and the report's overall verdict is their conjunction.
package report

import "fmt"

// Check is one named verification step.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report accumulates checks for one verification subject.
type Report struct {
	Subject string  `json:"subject,omitempty"`
	Checks  []Check `json:"checks"`
}

// New returns an empty report for the given subject.
func New(subject string) *Report {
	return &Report{Subject: subject}
}

// Add records a check result and returns passed for convenient chaining.
func (r *Report) Add(name string, passed bool, detail string) bool {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
	return passed
}

// Addf is Add with a formatted detail string.
func (r *Report) Addf(name string, passed bool, format string, args ...interface{}) bool {
	return r.Add(name, passed, fmt.Sprintf(format, args...))
}

// Fail records a failed check.
func (r *Report) Fail(name, detail string) {
	r.Add(name, false, detail)
}

// Merge appends another report's checks, prefixing each name.
func (r *Report) Merge(prefix string, other *Report) {
	for _, c := range other.Checks {
		name := c.Name
		if prefix != "" {
			name = prefix + "." + name
		}
		r.Checks = append(r.Checks, Check{Name: name, Passed: c.Passed, Detail: c.Detail})
	}
}

// Passed reports whether every check passed. An empty report passes.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns only the failed checks.
func (r *Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}
