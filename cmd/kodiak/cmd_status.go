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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	statusJSONOutput bool // Output as JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// statusCmd shows one run, or lists all runs when no id is given.
//
// # Examples
//
//	kodiak status                # List all runs
//	kodiak status <run-id>       # Show one run's tasks
//	kodiak status <run-id> --json
var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Shows the state of one run, or a summary of all runs.

With a run id, prints every task with its state, attempt count, and
error (if any). Without one, lists known runs newest first.

Examples:
  kodiak status
  kodiak status 4f1c9a...
  kodiak status 4f1c9a... --json   # Full snapshot for scripting`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatusCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.AddCommand(statusCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runStatusCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(args) == 0 {
		var body struct {
			Runs []struct {
				RunID     string    `json:"run_id"`
				Status    string    `json:"status"`
				CreatedAt time.Time `json:"created_at"`
				TaskCount int       `json:"task_count"`
			} `json:"runs"`
		}
		if err := client.call(ctx, "GET", "/v1/runs", nil, &body); err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		if statusJSONOutput {
			outputJSON(body.Runs)
			return
		}
		if len(body.Runs) == 0 {
			fmt.Println("No runs.")
			return
		}
		fmt.Printf("%-38s %-10s %-6s %s\n", "RUN", "STATUS", "TASKS", "CREATED")
		for _, r := range body.Runs {
			fmt.Printf("%-38s %-10s %-6d %s\n",
				r.RunID, r.Status, r.TaskCount, r.CreatedAt.Format(time.RFC3339))
		}
		return
	}

	var snap runSnapshot
	if err := client.call(ctx, "GET", "/v1/runs/"+args[0], nil, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if statusJSONOutput {
		outputJSON(snap)
		return
	}
	printRunSnapshot(snap)
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

func printRunSnapshot(snap runSnapshot) {
	fmt.Printf("Run:     %s\n", snap.RunID)
	fmt.Printf("Status:  %s\n", snap.Status)
	fmt.Printf("Trace:   %s\n", snap.TraceID)
	fmt.Printf("Created: %s\n", snap.CreatedAt.Format(time.RFC3339))
	if snap.FinishedAt != nil {
		fmt.Printf("Finished: %s (%v)\n",
			snap.FinishedAt.Format(time.RFC3339),
			snap.FinishedAt.Sub(snap.CreatedAt).Round(time.Millisecond))
	}

	fmt.Printf("\n%-20s %-12s %-12s %-8s %s\n", "TASK", "TYPE", "STATE", "TRIES", "DETAIL")
	for _, task := range snap.Tasks {
		detail := task.Error
		if detail == "" && len(task.DependsOn) > 0 {
			detail = "after " + strings.Join(task.DependsOn, ", ")
		}
		fmt.Printf("%-20s %-12s %-12s %-8d %s\n",
			task.ID, task.Type, task.State, task.AttemptCount, detail)
	}
}
