package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/seal"
)

// runSealCmd builds a sealed run for one decision and writes it with its
// manifest under the output directory.
func runSealCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		decisionID string
		root       string
		outDir     string
		user       string
		clockStr   string
		live       bool
		jsonOut    bool
	)
	cmd.StringVar(&decisionID, "decision", "", "Decision id to seal (REQUIRED)")
	cmd.StringVar(&root, "root", cfg.Root, "Project root holding data/, prompts/, schemas/, policy/")
	cmd.StringVar(&outDir, "out", cfg.OutDir, "Output directory for sealed artifacts")
	cmd.StringVar(&user, "user", "", "Acting operator id")
	cmd.StringVar(&clockStr, "clock", "", "Fixed UTC clock (RFC 3339); empty means now, non-deterministic")
	cmd.BoolVar(&live, "live", false, "Seal against the wall clock instead of a fixed one")
	cmd.BoolVar(&jsonOut, "json", false, "Print the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if decisionID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --decision is required")
		return 2
	}
	if user == "" {
		user = os.Getenv("USER")
		if user == "" {
			user = "operator"
		}
	}

	params := seal.Params{DecisionID: decisionID, User: user}
	if clockStr != "" {
		clock, err := time.Parse(time.RFC3339, clockStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --clock: %v\n", err)
			return 2
		}
		clock = clock.UTC()
		params.Clock = &clock
		params.Deterministic = true
	} else if !live {
		now := time.Now().UTC().Truncate(time.Second)
		params.Clock = &now
		params.Deterministic = true
	}

	b := &seal.Builder{
		Root:           root,
		DataDir:        "data",
		PromptsDir:     "prompts",
		SchemasDir:     "schemas",
		PolicyBaseline: "policy/POLICY_BASELINE.md",
		PolicyVersion:  "policy/POLICY_VERSION.txt",
		OutDir:         outDir,
		Logger:         cfg.Logger(os.Stderr),
	}

	res, err := b.Seal(params)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: seal failed: %v\n", err)
		return 2
	}

	if jsonOut {
		out, _ := json.MarshalIndent(map[string]interface{}{
			"run_id":      res.RunID,
			"commit_hash": res.CommitHash,
			"hash":        res.Hash,
			"sealed":      res.Path,
			"manifest":    res.ManifestPath,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "✅ Sealed %s\n", decisionID)
	_, _ = fmt.Fprintf(stdout, "Run:      %s\n", res.RunID)
	_, _ = fmt.Fprintf(stdout, "Commit:   %s\n", res.CommitHash)
	_, _ = fmt.Fprintf(stdout, "Hash:     %s\n", res.Hash)
	_, _ = fmt.Fprintf(stdout, "Sealed:   %s\n", res.Path)
	_, _ = fmt.Fprintf(stdout, "Manifest: %s\n", res.ManifestPath)
	return 0
}
