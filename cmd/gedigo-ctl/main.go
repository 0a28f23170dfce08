// Command gedigo-ctl is a small operational CLI for the gedigo API:
// submit ingest requests, poll their manifests, and cancel them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiBase string

func main() {
	root := &cobra.Command{
		Use:           "gedigo-ctl",
		Short:         "Operate the gedigo ingest service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("GEDIGO_API", "http://localhost:4000"), "base URL of the gedigo API")

	root.AddCommand(newSubmitCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newCancelCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
