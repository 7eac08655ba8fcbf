package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
)

// runAuditCmd grades a sealed run's determinism. Warnings exit 1,
// violations exit 2; --strict promotes warnings to violations.
func runAuditCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sealedPath string
		strict     bool
		jsonOut    bool
	)
	cmd.StringVar(&sealedPath, "sealed", "", "Sealed artifact (REQUIRED)")
	cmd.BoolVar(&strict, "strict", false, "Treat warnings as violations")
	cmd.BoolVar(&jsonOut, "json", false, "Print the audit report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sealedPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sealed is required")
		return 2
	}

	doc, raw, err := replay.LoadSealed(sealedPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	audit := replay.AuditDeterminism(doc, raw, strict)

	if jsonOut {
		out, _ := json.MarshalIndent(audit, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
		return audit.ExitCode()
	}

	for _, c := range audit.Checks {
		_, _ = fmt.Fprintf(stdout, "  [%-4s] %-40s %s\n", c.Level, c.Name, c.Detail)
	}
	switch audit.ExitCode() {
	case 0:
		_, _ = fmt.Fprintln(stdout, "✅ Determinism audit clean")
	case 1:
		_, _ = fmt.Fprintf(stdout, "⚠️  Determinism audit: %d warning(s)\n", audit.Warnings())
	default:
		_, _ = fmt.Fprintf(stdout, "❌ Determinism audit: %d violation(s)\n", audit.Violations())
	}
	return audit.ExitCode()
}
