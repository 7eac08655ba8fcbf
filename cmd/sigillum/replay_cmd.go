package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
)

// runReplayCmd recomputes every derived value in a sealed artifact and
// compares against what was sealed, pulling in the signature, the
// transparency log, and the authority ledger when available.
func runReplayCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sealedPath string
		sigPath    string
		keysPath   string
		logPath    string
		ledgerPath string
		threshold  int
	)
	cmd.StringVar(&sealedPath, "sealed", "", "Sealed artifact (REQUIRED)")
	cmd.StringVar(&sigPath, "sig", "", "Signature file (default <sealed>.sig.json when present)")
	cmd.StringVar(&keysPath, "keys", "", "YAML keyring (default $SIGILLUM_KEYS_FILE)")
	cmd.StringVar(&logPath, "log", "", "Transparency log (default $SIGILLUM_LOG_PATH when present)")
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH when present)")
	cmd.IntVar(&threshold, "require-multisig", cfg.Threshold, "Required number of distinct valid signatures")

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

	opts := replay.Options{RequireMultisig: threshold}
	opts.Keys, err = loadKeys(cfg, keysPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if sigPath == "" {
		if candidate := sealedPath + ".sig.json"; fileExists(candidate) {
			sigPath = candidate
		}
	}
	if sigPath != "" {
		opts.Signature, err = replay.LoadSignature(sigPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if logPath != "" || fileExists(cfg.LogPath) || cfg.DatabaseDSN != "" {
		opts.TransLog, err = openLog(cfg, logPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	if ledgerPath != "" || fileExists(cfg.LedgerPath) || cfg.DatabaseDSN != "" {
		opts.AuthLedger, err = openLedger(cfg, ledgerPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	return printReport(stdout, "Replay", replay.Replay(context.Background(), doc, opts))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
