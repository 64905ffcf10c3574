package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/blikh/wg-traffic-panel/cmd/panel/commands"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		commands.Run(os.Args[2:], logger)
	case "prune":
		commands.Prune(os.Args[2:], logger)
	case "report":
		commands.Report(os.Args[2:], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: panel <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run       Start the traffic accounting engine and API")
	fmt.Fprintln(os.Stderr, "  prune     Prune samples past the retention horizon and exit")
	fmt.Fprintln(os.Stderr, "  report    Print a usage report for a time window and exit")
}
