package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/config"
)

// runLedgerCmd manages the authority ledger: record grants, revoke
// them, verify the chain, and prove authority over a claim at a time.
func runLedgerCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: sigillum ledger <grant|revoke|verify|prove> ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "grant":
		return runLedgerGrant(cfg, rest, stdout, stderr)
	case "revoke":
		return runLedgerRevoke(cfg, rest, stdout, stderr)
	case "verify":
		return runLedgerVerify(cfg, rest, stdout, stderr)
	case "prove":
		return runLedgerProve(cfg, rest, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", sub)
		return 2
	}
}

func runLedgerGrant(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger grant", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath  string
		authorityID string
		actorID     string
		actorRole   string
		grantType   string
		claims      string
		decisions   string
		effective   string
		expires     string
		keyID       string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	cmd.StringVar(&authorityID, "authority", "", "Authority id, e.g. AUTH-OP-001 (REQUIRED)")
	cmd.StringVar(&actorID, "actor", "", "Actor the authority is granted to (REQUIRED)")
	cmd.StringVar(&actorRole, "role", "operator", "Actor role")
	cmd.StringVar(&grantType, "type", "direct", "Grant type: direct or delegated")
	cmd.StringVar(&claims, "claims", "", "Comma-separated claim ids blessed (\"*\" for all)")
	cmd.StringVar(&decisions, "decisions", "", "Comma-separated decision ids in scope")
	cmd.StringVar(&effective, "effective", "", "Window start, RFC 3339 (default now)")
	cmd.StringVar(&expires, "expires", "", "Window end, RFC 3339 (default none)")
	cmd.StringVar(&keyID, "key", cfg.SigningKey, "Signing key id recorded with the grant")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if authorityID == "" || actorID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --authority and --actor are required")
		return 2
	}

	gt, err := authority.ParseGrantType(grantType)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	now := time.Now().UTC()
	effectiveAt := now
	if effective != "" {
		if effectiveAt, err = parseTime(effective); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --effective: %v\n", err)
			return 2
		}
	}
	var expiresAt *time.Time
	if expires != "" {
		ts, err := parseTime(expires)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --expires: %v\n", err)
			return 2
		}
		expiresAt = &ts
	}

	ledger, err := openLedger(cfg, ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	entry, err := ledger.Append(context.Background(), authority.Grant{
		AuthorityID:   authorityID,
		ActorID:       actorID,
		ActorRole:     actorRole,
		Type:          gt,
		Scope:         authority.ScopeBound{Claims: splitList(claims), Decisions: splitList(decisions)},
		ClaimsBlessed: splitList(claims),
		EffectiveAt:   effectiveAt,
		ExpiresAt:     expiresAt,
		SigningKeyID:  keyID,
		RecordedAt:    now,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Granted %s to %s\n", authorityID, actorID)
	_, _ = fmt.Fprintf(stdout, "Entry: %s\n", entry["entry_id"])
	return 0
}

func runLedgerRevoke(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath  string
		authorityID string
		reason      string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	cmd.StringVar(&authorityID, "authority", "", "Authority id to revoke (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Revocation reason recorded in the entry")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if authorityID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --authority is required")
		return 2
	}

	ledger, err := openLedger(cfg, ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	entry, err := ledger.Revoke(context.Background(), authorityID, reason, time.Now().UTC())
	if err != nil {
		if errors.Is(err, authority.ErrGrantNotFound) {
			_, _ = fmt.Fprintf(stderr, "Error: no grant found for %s\n", authorityID)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Revoked %s\n", authorityID)
	_, _ = fmt.Fprintf(stdout, "Entry: %s\n", entry["entry_id"])
	return 0
}

func runLedgerVerify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var ledgerPath string
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ledger, err := openLedger(cfg, ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	violations, err := ledger.VerifyChain(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(violations) == 0 {
		_, _ = fmt.Fprintln(stdout, "✅ Authority ledger chain intact")
		return 0
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "  [FAIL] entry %d (%s): %s %s\n", v.Index, v.EntryID, v.Kind, v.Detail)
	}
	_, _ = fmt.Fprintf(stdout, "❌ Authority ledger chain broken: %d violation(s)\n", len(violations))
	return 1
}

func runLedgerProve(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger prove", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		claimID    string
		atStr      string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Authority ledger (default $SIGILLUM_LEDGER_PATH)")
	cmd.StringVar(&claimID, "claim", "", "Claim id to prove authority over (REQUIRED)")
	cmd.StringVar(&atStr, "at", "", "Evaluation time, RFC 3339 (default now)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if claimID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --claim is required")
		return 2
	}

	at := time.Now().UTC()
	if atStr != "" {
		var err error
		if at, err = parseTime(atStr); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --at: %v\n", err)
			return 2
		}
	}

	ledger, err := openLedger(cfg, ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	proof, err := ledger.ProveAuthority(context.Background(), claimID, at)
	if err != nil {
		if errors.Is(err, authority.ErrNoAuthority) {
			_, _ = fmt.Fprintf(stdout, "❌ No authority over %s at %s\n", claimID, at.Format(time.RFC3339))
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	raw, _ := json.MarshalIndent(proof, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(raw))
	return 0
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
