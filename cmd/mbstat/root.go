package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/mbpool/internal/logger"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logDir  string
)

var rootCmd = &cobra.Command{
	Use:   "mbstat",
	Short: "Exercise and inspect the per-CPU mbuf allocator",
	Long: `mbstat builds an mbuf/cluster pool with the given geometry, drives it
with concurrent allocators and prints the per-CPU and global container
counters, migration and starvation statistics.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator slow-path events to stderr")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write JSON logs to this directory")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging routes the allocator's logger before any pool is created.
func setupLogging(cmd *cobra.Command, _ []string) error {
	switch {
	case logDir != "":
		return logger.Init(logger.Options{Enabled: true, LogDir: logDir, Level: slog.LevelDebug})
	case verbose:
		return logger.Init(logger.Options{Enabled: true, Writer: cmd.ErrOrStderr(), Level: slog.LevelDebug})
	default:
		return logger.Init(logger.Options{})
	}
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(cmd *cobra.Command, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
