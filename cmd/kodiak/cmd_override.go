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
	overrideAuthority     string // Who is authorizing the override
	overrideJustification string // Why the soft veto is bypassed
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// overrideCmd registers a soft-veto override for one task.
//
// # Description
//
// A soft veto blocks a task until someone with authority overrides it.
// The override applies to the task's next dispatch attempt only and is
// recorded in the run's audit trail. Hard vetoes cannot be overridden.
var overrideCmd = &cobra.Command{
	Use:   "override <run-id> <task-id>",
	Short: "Override a soft veto on a task",
	Long: `Registers an authority override so a soft-vetoed task may run.

The override is consumed by the task's next dispatch attempt and is
written to the audit trail with the given justification. Hard vetoes
are final and cannot be overridden.

Examples:
  kodiak override 4f1c9a... deploy-prod \
      --authority release-manager \
      --justification "change board approved CR-1042"`,
	Args: cobra.ExactArgs(2),
	Run:  runOverrideCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	overrideCmd.Flags().StringVarP(&overrideAuthority, "authority", "a", "",
		"Identity granting the override")
	overrideCmd.Flags().StringVarP(&overrideJustification, "justification", "j", "",
		"Reason recorded in the audit trail")
	overrideCmd.MarkFlagRequired("authority")
	overrideCmd.MarkFlagRequired("justification")
	rootCmd.AddCommand(overrideCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runOverrideCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body := map[string]string{
		"authority":     overrideAuthority,
		"justification": overrideJustification,
	}
	path := fmt.Sprintf("/v1/runs/%s/tasks/%s/override", args[0], args[1])
	if err := client.call(ctx, "POST", path, body, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Override failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Override registered for task %s in run %s\n", args[1], args[0])
}
