// Package main is the entry point for the meetrunner CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by release ldflags.
var version = "dev"

type globalFlags struct {
	configPath string
	workDir    string
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meetrunner:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "meetrunner",
		Short:         "Agent that collects gymnastics meet results into a database and printable documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to meetrunner.yaml")
	root.PersistentFlags().StringVarP(&g.workDir, "workdir", "w", "", "Workspace directory (default: current directory)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		runCmd(g),
		serveCmd(g),
		queryCmd(g),
		checkpointCmd(g),
		toolsCmd(g),
	)
	return root
}
