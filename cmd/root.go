// Package cmd defines the CLI surface of the ingest service.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookstore-ingest",
		Short: "Async ingestion pipeline for marketplace book listings.",
		Long: `bookstore-ingest crawls book listings from a remote marketplace,
enriches them with detail crawls, and keeps prices current through
recurring price-update jobs. All pipeline stages communicate over a
durable task bus and report progress through tracked jobs.`,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
