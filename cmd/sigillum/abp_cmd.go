package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sigillum-io/sigillum/pkg/abp"
	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/schemas"
)

// runABPCmd builds, composes, and verifies Authority Boundary
// Primitives. Build and compose take a JSON params file rather than a
// forest of flags; the boundary sections are too structured for flags.
func runABPCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: sigillum abp <build|compose|verify> ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "build":
		return runABPBuild(cfg, rest, stdout, stderr)
	case "compose":
		return runABPCompose(cfg, rest, stdout, stderr)
	case "verify":
		return runABPVerify(cfg, rest, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown abp subcommand: %s\n", sub)
		return 2
	}
}

func runABPBuild(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("abp build", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		paramsPath  string
		outPath     string
		ledgerPath  string
		authEntryID string
	)
	cmd.StringVar(&paramsPath, "params", "", "JSON file with scope and boundary sections (REQUIRED)")
	cmd.StringVar(&outPath, "out", "abp_v1.json", "Output file")
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	cmd.StringVar(&authEntryID, "authority-entry", "", "Ledger entry id to bind as authority_ref")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if paramsPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --params is required")
		return 2
	}

	params, err := loadABPParams(paramsPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	if authEntryID != "" {
		ledger, err := openLedger(cfg, ledgerPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		path := ledgerPath
		if path == "" {
			path = cfg.LedgerPath
		}
		ref, err := abp.ResolveAuthorityRef(context.Background(), ledger, authEntryID, path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		params.AuthorityRef = ref
	}

	doc, err := abp.Build(*params)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := writeJSONFile(outPath, doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Built %s\n", doc["abp_id"])
	_, _ = fmt.Fprintf(stdout, "Hash: %s\n", doc["hash"])
	_, _ = fmt.Fprintf(stdout, "File: %s\n", outPath)
	return 0
}

func runABPCompose(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("abp compose", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		paramsPath string
		outPath    string
	)
	cmd.StringVar(&paramsPath, "params", "", "JSON file with parent scope and authority_ref (REQUIRED)")
	cmd.StringVar(&outPath, "out", "abp_v1.json", "Output file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if paramsPath == "" || cmd.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: sigillum abp compose --params FILE <child.json> [child.json ...]")
		return 2
	}

	params, err := loadABPParams(paramsPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	children := make([]abp.Doc, 0, cmd.NArg())
	for _, path := range cmd.Args() {
		child, err := readJSONFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		children = append(children, child)
	}

	doc, err := abp.Compose(abp.ComposeParams{
		Scope:        params.Scope,
		AuthorityRef: params.AuthorityRef,
		Children:     children,
		Params:       *params,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := writeJSONFile(outPath, doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Composed %s from %d children\n", doc["abp_id"], len(children))
	_, _ = fmt.Fprintf(stdout, "File: %s\n", outPath)
	return 0
}

func runABPVerify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("abp verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		abpPath    string
		ledgerPath string
		noLedger   bool
	)
	cmd.StringVar(&abpPath, "abp", "abp_v1.json", "ABP document to verify")
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	cmd.BoolVar(&noLedger, "no-ledger", false, "Skip authority reference checks")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	doc, err := readJSONFile(abpPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := schemas.ValidateABP(doc); err != nil {
		_, _ = fmt.Fprintf(stdout, "  [FAIL] abp.schema %v\n", err)
		_, _ = fmt.Fprintf(stdout, "❌ ABP verification FAILED\n")
		return 1
	}

	var ledger *authority.Ledger
	if !noLedger {
		l, err := openLedger(cfg, ledgerPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		ledger = l
	}

	return printReport(stdout, "ABP verification", abp.Verify(context.Background(), doc, ledger))
}

func loadABPParams(path string) (*abp.Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var params abp.Params
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &params, nil
}

func readJSONFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func writeJSONFile(path string, doc interface{}) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
