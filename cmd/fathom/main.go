// Package main is the fathom CLI: a session-oriented agent runtime server
// and a terminal client for it.
//
// Usage:
//
//	fathom server --addr 127.0.0.1:50051
//	fathom client --server 127.0.0.1:50051
//
// Environment:
//
//   - OPENAI_API_KEY: model credential (required by the server)
//   - FATHOM_WORKSPACE_ROOT: bounds fs:// tool resolution (default: cwd)
//   - FATHOM_TASK_PARALLELISM: process-wide task parallelism W
//   - FATHOM_CONFIG: path to the YAML config file
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes promised by the CLI contract.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
	exitBind   = 3
)

// exitError carries a specific process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	root := &cobra.Command{
		Use:           "fathom",
		Short:         "Fathom session-oriented agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServerCmd(), buildClientCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fathom:", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(exitFatal)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fathom %s (%s)\n", version, commit)
		},
	}
}
