package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dagflow",
	Short: "dagflow runs state-graph workflows across actors",
	Long: `dagflow validates, analyzes and executes workflow definitions made of
actor tasks, parallel branches, conditionals and waits. Run 'dagflow serve'
to start the engine with its HTTP, WebSocket and gRPC surfaces.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
