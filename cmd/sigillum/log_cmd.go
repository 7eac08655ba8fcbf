package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

// runLogCmd manages the transparency log: append a sealed run, verify
// the hash chain, or publish the head snapshot.
func runLogCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: sigillum log <append|verify|head> ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "append":
		return runLogAppend(cfg, rest, stdout, stderr)
	case "verify":
		return runLogVerify(cfg, rest, stdout, stderr)
	case "head":
		return runLogHead(cfg, rest, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown log subcommand: %s\n", sub)
		return 2
	}
}

func runLogAppend(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log append", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sealedPath string
		logPath    string
		keyID      string
	)
	cmd.StringVar(&sealedPath, "sealed", "", "Sealed artifact to record (REQUIRED)")
	cmd.StringVar(&logPath, "log", "", "Transparency log (default $SIGILLUM_LOG_PATH)")
	cmd.StringVar(&keyID, "key", cfg.SigningKey, "Signing key id to record with the entry")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sealedPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sealed is required")
		return 2
	}

	doc, _, err := replay.LoadSealed(sealedPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	log, err := openLog(cfg, logPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	env, _ := doc["authority_envelope"].(map[string]interface{})
	prov, _ := env["provenance"].(map[string]interface{})
	runID, _ := prov["run_id"].(string)
	commit, _ := doc["commit_hash"].(string)
	hash, _ := doc["hash"].(string)

	entry, err := log.Append(context.Background(), translog.AppendParams{
		RunID:          runID,
		CommitHash:     commit,
		ArtifactSHA256: hash,
		ArtifactPath:   sealedPath,
		SigningKeyID:   keyID,
		RecordedAt:     time.Now().UTC(),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Recorded %s\n", runID)
	_, _ = fmt.Fprintf(stdout, "Entry: %s\n", entry["entry_id"])
	return 0
}

func runLogVerify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var logPath string
	cmd.StringVar(&logPath, "log", "", "Transparency log (default $SIGILLUM_LOG_PATH)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	log, err := openLog(cfg, logPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	violations, err := log.VerifyChain(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(violations) == 0 {
		_, _ = fmt.Fprintln(stdout, "✅ Transparency log chain intact")
		return 0
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "  [FAIL] entry %d (%s): %s %s\n", v.Index, v.EntryID, v.Kind, v.Detail)
	}
	_, _ = fmt.Fprintf(stdout, "❌ Transparency log chain broken: %d violation(s)\n", len(violations))
	return 1
}

func runLogHead(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log head", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		logPath string
		outPath string
	)
	cmd.StringVar(&logPath, "log", "", "Transparency log (default $SIGILLUM_LOG_PATH)")
	cmd.StringVar(&outPath, "out", "", "Also write the head snapshot to this file (e.g. LOG_HEAD.json)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	log, err := openLog(cfg, logPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	head, err := log.Head(context.Background(), time.Now().UTC())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	raw, _ := json.MarshalIndent(head, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(raw))
	if outPath != "" {
		if err := os.WriteFile(outPath, append(raw, '\n'), 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	return 0
}
