// Command kissvdb runs (or operates on) a single-node kissvdb server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "kissvdb",
	Short:   "A single-node, multi-model, event-sourced data service",
	Version: version,
}

func main() {
	rootCmd.AddCommand(serveCmd, vacuumCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
