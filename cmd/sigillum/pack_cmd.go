package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
)

// runPackCmd verifies a whole artifact pack directory: sealed run,
// signatures, ledgers, log head, and ABP, discovered by convention.
func runPackCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "verify" {
		_, _ = fmt.Fprintln(stderr, "Usage: sigillum pack verify <dir> [--threshold N] [--strict] [--require-abp]")
		return 2
	}
	args = args[1:]

	cmd := flag.NewFlagSet("pack verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keysPath   string
		threshold  int
		strict     bool
		requireABP bool
	)
	cmd.StringVar(&keysPath, "keys", "", "YAML keyring (default $SIGILLUM_KEYS_FILE)")
	cmd.IntVar(&threshold, "threshold", cfg.Threshold, "Required number of distinct valid signatures")
	cmd.BoolVar(&strict, "strict", false, "Treat audit warnings as violations")
	cmd.BoolVar(&requireABP, "require-abp", false, "Fail when the pack has no ABP")

	// Accept `pack verify <dir> --flags` and `pack verify --flags <dir>`.
	var dir string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		dir = args[0]
		args = args[1:]
	}
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dir == "" && cmd.NArg() > 0 {
		dir = cmd.Arg(0)
	}
	if dir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: pack directory is required")
		return 2
	}

	keys, err := loadKeys(cfg, keysPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	p := replay.VerifyPack(context.Background(), dir, replay.PackOptions{
		Keys:       keys,
		Threshold:  threshold,
		Strict:     strict,
		RequireABP: requireABP,
	})

	for _, s := range p.Sections {
		_, _ = fmt.Fprintf(stdout, "%s:\n", s.Name)
		for _, c := range s.Report.Checks {
			mark := "PASS"
			if !c.Passed {
				mark = "FAIL"
			}
			_, _ = fmt.Fprintf(stdout, "  [%s] %-40s %s\n", mark, c.Name, c.Detail)
		}
	}
	if p.Audit != nil {
		_, _ = fmt.Fprintln(stdout, "audit:")
		for _, c := range p.Audit.Checks {
			_, _ = fmt.Fprintf(stdout, "  [%-4s] %-40s %s\n", c.Level, c.Name, c.Detail)
		}
	}

	if p.Passed() {
		_, _ = fmt.Fprintf(stdout, "✅ Pack verification PASSED: %s\n", dir)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "❌ Pack verification FAILED: %s\n", dir)
	return 1
}
