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
	"gopkg.in/yaml.v3"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	submitFile string // Workflow definition file (YAML or JSON)
	submitWait bool   // Block until the run reaches a terminal status
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// submitCmd submits a workflow definition to the service.
//
// # Description
//
// Reads a task list from a YAML or JSON file, posts it to the workflow
// service, and prints the assigned run id. With --wait it polls the run
// until it finishes and exits non-zero on failure.
//
// # Examples
//
//	kodiak submit -f workflow.yaml
//	kodiak submit -f workflow.json --wait
//
// # Limitations
//
//   - The file must fit in memory
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a workflow to the service",
	Long: `Submits a workflow definition and prints the run id.

The definition is a list of tasks, each with an id, a collaborator task
type, optional dependencies, and an optional payload:

  tasks:
    - id: generate
      type: codegen
      payload:
        prompt: "add a retry helper"
    - id: review
      type: review
      depends_on: [generate]

Examples:
  kodiak submit -f workflow.yaml         # Fire and forget
  kodiak submit -f workflow.yaml --wait  # Block until terminal`,
	Run: runSubmitCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "",
		"Workflow definition file (YAML or JSON)")
	submitCmd.MarkFlagRequired("file")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false,
		"Wait for the run to finish; exit 1 unless it completes")
	rootCmd.AddCommand(submitCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runSubmitCommand(cmd *cobra.Command, args []string) {
	req, err := loadWorkflowFile(submitFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp submitResponse
	if err := client.call(ctx, "POST", "/v1/runs", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.RunID)

	if !submitWait {
		return
	}
	snap, err := pollUntilTerminal(client, resp.RunID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Wait failed: %v\n", err)
		os.Exit(1)
	}
	printRunSnapshot(snap)
	if snap.Status != "completed" {
		os.Exit(1)
	}
}

// loadWorkflowFile parses a YAML or JSON workflow definition. YAML
// payload maps are converted to the JSON form the API expects.
func loadWorkflowFile(path string) (submitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return submitRequest{}, err
	}

	var req submitRequest
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &req); err != nil {
			return submitRequest{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		var file struct {
			Tasks []taskEntry `yaml:"tasks"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return submitRequest{}, fmt.Errorf("parse %s: %w", path, err)
		}
		req.Tasks = file.Tasks
	}

	for i := range req.Tasks {
		if req.Tasks[i].Payload == nil && req.Tasks[i].RawPayload != nil {
			payload, err := json.Marshal(req.Tasks[i].RawPayload)
			if err != nil {
				return submitRequest{}, fmt.Errorf("task %q payload: %w", req.Tasks[i].ID, err)
			}
			req.Tasks[i].Payload = payload
		}
	}

	if len(req.Tasks) == 0 {
		return submitRequest{}, fmt.Errorf("%s defines no tasks", path)
	}
	return req, nil
}

// pollUntilTerminal polls the run snapshot until the status is terminal.
func pollUntilTerminal(client *apiClient, runID string) (runSnapshot, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var snap runSnapshot
		err := client.call(ctx, "GET", "/v1/runs/"+runID, nil, &snap)
		cancel()
		if err != nil {
			return runSnapshot{}, err
		}
		switch snap.Status {
		case "completed", "failed", "cancelled":
			return snap, nil
		}
	}
	return runSnapshot{}, fmt.Errorf("poll loop exited unexpectedly")
}
