// Command personactl is the command-line surface for the persona
// authority/gates/audit runtime.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, factored out from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "authority":
		return runAuthorityCmd(args[2:], stdout, stderr)
	case "gate":
		return runGateCmd(args[2:], stdout, stderr)
	case "elevation":
		return runElevationCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "personactl: unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `personactl - persona authority/gates/audit runtime

Usage:
 personactl check --persona <file> [--json]
 personactl authority --check --persona <file> [--defaults <file>] [--state-dir <dir> --name <name>] --action <action> [--json]
 personactl gate --evaluate --persona <file> --state-dir <dir> --name <name> [--metrics-json '{"metric":0.9}'] [--json]
 personactl gate --override --persona <file> --state-dir <dir> --name <name> --gate <id> --to-phase <phase> --approver <id> --reason <text>
 personactl gate --approve --state-dir <dir> --name <name> --gate <id> --approver <id>
 personactl elevation --activate --persona <file> --state-dir <dir> --name <name> --elevation <id> --approver <id> [--reason <text>]
 personactl audit --verify --log <file> [--checkpoint <file> --pubkey-hex <hex> --key-id <id>]
 personactl sign --in <file> --key-id <id> --root-secret-hex <hex> --fields f1,f2,... --out <file>
 personactl verify --in <file> --pubkey-hex <hex>
`)
}
