// Command corral is the CLI entry point described in SPEC_FULL.md's
// AMBIENT STACK: a thin cobra wrapper that resolves a config file,
// initializes logging, and hands off to the supervisor core. It is
// grounded on cmd/seeker/main.go's shape (root command, a
// PersistentPreRunE that resolves config and sets up slog, a handful of
// subcommands) but the flag surface and subcommands are corral's own.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("corral failed", "error", err)
		os.Exit(1)
	}
}
