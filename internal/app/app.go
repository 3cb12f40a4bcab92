package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "resolve":
		return runResolve(args[1:])
	case "consolidate":
		return runConsolidate(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "digest":
		return runDigest(args[1:])
	case "stats":
		return runStats(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "arcs CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  arcs <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  resolve      Route fragment JSON into matching or new arcs")
	fmt.Fprintln(os.Stderr, "  consolidate  Cluster, merge, and sweep duplicate arcs")
	fmt.Fprintln(os.Stderr, "  sweep        Delete arcs past the retention windows")
	fmt.Fprintln(os.Stderr, "  digest       Stamp the most active arcs into a digest batch")
	fmt.Fprintln(os.Stderr, "  stats        Print engine counters as JSON")
	fmt.Fprintln(os.Stderr, "  serve        Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"arcs <command> -h\" for command-specific flags.")
}
