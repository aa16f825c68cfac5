// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/logging"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	serverURL string // Workflow service base URL
	verbose   bool   // Debug-level logging
)

var logger *logging.Logger

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "kodiak",
	Short: "Client for the Kodiak workflow service",
	Long: `kodiak drives the Kodiak workflow service from the command line.

Workflows are DAGs of tasks dispatched to registered collaborators with
retry, circuit breaking, and authority enforcement applied per task.

Examples:
  kodiak submit -f workflow.yaml       # Submit a workflow
  kodiak status <run-id>               # Inspect a run
  kodiak watch <run-id>                # Stream run events live
  kodiak cancel <run-id>               # Request cancellation
  kodiak audit <run-id>                # Print the audit trail

The server address comes from --server or the KODIAK_SERVER environment
variable (default http://localhost:12300).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("KODIAK_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:12300"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer,
		"Workflow service base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{
			Level:   level,
			Service: "cli",
		})
	}
}
