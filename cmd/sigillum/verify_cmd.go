package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/sigillum-io/sigillum/pkg/config"
	"github.com/sigillum-io/sigillum/pkg/replay"
	"github.com/sigillum-io/sigillum/pkg/sig"
)

// runVerifyCmd checks a detached signature against its artifact. For a
// multisig envelope --threshold demands a quorum of distinct keys.
func runVerifyCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sealedPath string
		sigPath    string
		keysPath   string
		threshold  int
	)
	cmd.StringVar(&sealedPath, "sealed", "", "Sealed artifact (REQUIRED)")
	cmd.StringVar(&sigPath, "sig", "", "Signature file (default <sealed>.sig.json)")
	cmd.StringVar(&keysPath, "keys", "", "YAML keyring (default $SIGILLUM_KEYS_FILE)")
	cmd.IntVar(&threshold, "threshold", cfg.Threshold, "Required number of distinct valid signatures")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sealedPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sealed is required")
		return 2
	}
	if sigPath == "" {
		sigPath = sealedPath + ".sig.json"
	}

	keys, err := loadKeys(cfg, keysPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	doc, _, err := replay.LoadSealed(sealedPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	f, err := replay.LoadSignature(sigPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	switch {
	case f.Envelope != nil:
		return printReport(stdout, "Multisig verification", sig.VerifyMultisig(doc, f.Envelope, threshold, keys))
	case f.Block != nil:
		if threshold > 1 {
			_, _ = fmt.Fprintf(stderr, "Error: threshold %d but %s holds a single signature\n", threshold, sigPath)
			return 1
		}
		return printReport(stdout, "Signature verification", sig.VerifyBlock(doc, f.Block, keys))
	}
	_, _ = fmt.Fprintf(stderr, "Error: empty signature file %s\n", sigPath)
	return 2
}
