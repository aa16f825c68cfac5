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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// cancelCmd requests cancellation of a running workflow.
//
// # Description
//
// Cancellation is cooperative: tasks already dispatched drain, and no
// new tasks start. The command returns as soon as the request is
// accepted, not when the run reaches its terminal status.
var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of a run",
	Long: `Requests cancellation of a running workflow.

In-flight tasks finish or abort on their own; pending tasks never
start. Use "kodiak status <run-id>" to watch the run drain.

Examples:
  kodiak cancel 4f1c9a...`,
	Args: cobra.ExactArgs(1),
	Run:  runCancelCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(cancelCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runCancelCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.call(ctx, "POST", "/v1/runs/"+args[0]+"/cancel", nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Cancel failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cancellation requested for %s\n", args[0])
}
