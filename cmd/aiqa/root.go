package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aiqa",
	Short: "AIQA trace ingestion backend",
	Long: `AIQA is a multi-tenant observability backend for LLM-augmented
workloads. It ingests OpenTelemetry trace exports, attributes token costs to
each span, rolls aggregate statistics up every trace tree, persists spans to
the span store, and keeps offline experiment summaries current.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"path to the configuration file")
}
