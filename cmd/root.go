// Package cmd implements the 0ne gateway's CLI: the outer shell wiring
// config, registry, and the JSON-RPC front-end into a runnable process.
// This package is explicitly out of scope for the federation engine's
// correctness guarantees; it is a thin wrapper around internal/registry
// and internal/gateway.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the 0ne gateway CLI.
var rootCmd = &cobra.Command{
	Use:   "0ne",
	Short: "0ne gateway: federates MCP servers behind one JSON-RPC endpoint",
	Long: `0ne is an MCP gateway: a single JSON-RPC 2.0 endpoint that federates an
arbitrary number of upstream MCP servers into one unified tool catalog,
namespaced by backend and augmented with a fixed admin toolset.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build
// time via -ldflags.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command; it is the sole entry point main() calls.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "0ne version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
