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
// COMMAND FLAGS
// =============================================================================

var (
	auditJSONOutput bool // Output as JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// auditCmd prints a run's append-only audit trail.
//
// # Description
//
// The trail interleaves task state transitions with authority
// decisions (pass, soft veto, hard veto, override), in the order they
// were recorded.
var auditCmd = &cobra.Command{
	Use:   "audit <run-id>",
	Short: "Print a run's audit trail",
	Long: `Prints the append-only audit trail for a run.

Each line is either a task state transition or an authority decision.
Pass decisions are recorded too, so the trail shows every check made,
not just the ones that blocked something.

Examples:
  kodiak audit 4f1c9a...
  kodiak audit 4f1c9a... --json`,
	Args: cobra.ExactArgs(1),
	Run:  runAuditCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	auditCmd.Flags().BoolVar(&auditJSONOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.AddCommand(auditCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runAuditCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var body struct {
		Records []auditRecord `json:"records"`
	}
	if err := client.call(ctx, "GET", "/v1/runs/"+args[0]+"/audit", nil, &body); err != nil {
		fmt.Fprintf(os.Stderr, "Audit failed: %v\n", err)
		os.Exit(1)
	}

	if auditJSONOutput {
		outputJSON(body.Records)
		return
	}

	for _, rec := range body.Records {
		switch {
		case rec.Veto != nil:
			line := fmt.Sprintf("%4d  %s  authority  task=%s domain=%s decision=%s",
				rec.Seq, rec.Veto.Timestamp.Format(time.RFC3339),
				rec.Veto.TaskID, rec.Veto.Domain, rec.Veto.Decision)
			if rec.Veto.AuthorityAgent != "" {
				line += " agent=" + rec.Veto.AuthorityAgent
			}
			if rec.Veto.Justification != "" {
				line += fmt.Sprintf(" justification=%q", rec.Veto.Justification)
			}
			fmt.Println(line)
		case rec.Event != nil:
			line := fmt.Sprintf("%4d  %s  task       task=%s state=%s",
				rec.Seq, rec.Event.Timestamp.Format(time.RFC3339),
				rec.Event.TaskID, rec.Event.State)
			if rec.Event.Error != "" {
				line += fmt.Sprintf(" error=%q", rec.Event.Error)
			}
			fmt.Println(line)
		}
	}
}
