// Command sigillum seals, signs, records, and verifies governance
// artifacts. Every subcommand follows the same exit contract:
//
//	0 = success / verification passed
//	1 = verification failed (warnings only, for audit)
//	2 = usage or runtime error (violations, for audit)
package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/chain"
	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/report"
	"github.com/sigillum-io/sigillum/pkg/sig"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher, split out so tests can drive it.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	cfg := config.Load()

	switch args[1] {
	case "seal":
		return runSealCmd(cfg, args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(cfg, args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(cfg, args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(cfg, args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(cfg, args[2:], stdout, stderr)
	case "pack":
		return runPackCmd(cfg, args[2:], stdout, stderr)
	case "log":
		return runLogCmd(cfg, args[2:], stdout, stderr)
	case "ledger":
		return runLedgerCmd(cfg, args[2:], stdout, stderr)
	case "abp":
		return runABPCmd(cfg, args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "sigillum - sealed governance artifacts and chain of custody")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sigillum seal    --decision <id> [--root DIR] [--out DIR] [--clock TS]")
	fmt.Fprintln(w, "  sigillum sign    --sealed FILE --key ID [--append] [--signer ID --role ROLE]")
	fmt.Fprintln(w, "  sigillum verify  --sealed FILE [--sig FILE] [--threshold N]")
	fmt.Fprintln(w, "  sigillum replay  --sealed FILE [--sig FILE] [--log FILE] [--ledger FILE]")
	fmt.Fprintln(w, "  sigillum audit   --sealed FILE [--strict]")
	fmt.Fprintln(w, "  sigillum pack    verify <dir> [--threshold N] [--strict] [--require-abp]")
	fmt.Fprintln(w, "  sigillum log     <append|verify|head> ...")
	fmt.Fprintln(w, "  sigillum ledger  <grant|revoke|verify|prove> ...")
	fmt.Fprintln(w, "  sigillum abp     <build|compose|verify> ...")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: SIGILLUM_ROOT, SIGILLUM_OUT_DIR, SIGILLUM_KEYS_FILE,")
	fmt.Fprintln(w, "  SIGILLUM_SIGNING_KEY, SIGILLUM_LOG_PATH, SIGILLUM_LEDGER_PATH,")
	fmt.Fprintln(w, "  SIGILLUM_DB, SIGILLUM_THRESHOLD, SIGILLUM_LOG_LEVEL")
	fmt.Fprintln(w, "")
}

// openChainStore picks the ledger backend: SQLite when SIGILLUM_DB is
// set, NDJSON file otherwise.
func openChainStore(cfg *config.Config, path, table string) (chain.Store, error) {
	if cfg.DatabaseDSN == "" {
		return chain.NewFileStore(path), nil
	}
	db, err := sql.Open("sqlite", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DatabaseDSN, err)
	}
	return chain.NewSQLStore(db, table), nil
}

func openLog(cfg *config.Config, path string) (*translog.Log, error) {
	if path == "" {
		path = cfg.LogPath
	}
	store, err := openChainStore(cfg, path, "transparency_log")
	if err != nil {
		return nil, err
	}
	return translog.New(store), nil
}

func openLedger(cfg *config.Config, path string) (*authority.Ledger, error) {
	if path == "" {
		path = cfg.LedgerPath
	}
	store, err := openChainStore(cfg, path, "authority_ledger")
	if err != nil {
		return nil, err
	}
	return authority.New(store), nil
}

func loadKeys(cfg *config.Config, path string) (*sig.Keyring, error) {
	if path == "" {
		path = cfg.KeysFile
	}
	if path == "" {
		return nil, nil
	}
	return sig.LoadKeyring(path)
}

// printReport renders a check report in the fixed-width style the rest
// of the tool uses, returning the exit code.
func printReport(stdout io.Writer, label string, r *report.Report) int {
	for _, c := range r.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		if c.Detail != "" {
			_, _ = fmt.Fprintf(stdout, "  [%s] %-40s %s\n", mark, c.Name, c.Detail)
		} else {
			_, _ = fmt.Fprintf(stdout, "  [%s] %s\n", mark, c.Name)
		}
	}
	if r.Passed() {
		_, _ = fmt.Fprintf(stdout, "✅ %s PASSED\n", label)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "❌ %s FAILED (%d checks)\n", label, len(r.Failures()))
	return 1
}
