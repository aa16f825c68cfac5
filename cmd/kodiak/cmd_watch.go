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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// watchCmd streams a run's events over the service's websocket.
//
// # Description
//
// The first message is the run's current snapshot; each following
// message is one state change. The stream (and the command) ends when
// the run reaches a terminal status or on Ctrl-C.
var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Stream a run's events live",
	Long: `Streams task and run state changes as they happen.

The service replays the current snapshot first, so watching a run that
is already underway shows where it stands before new events arrive.
The command exits when the run finishes or on Ctrl-C.

Examples:
  kodiak watch 4f1c9a...`,
	Args: cobra.ExactArgs(1),
	Run:  runWatchCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(watchCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runWatchCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()
	url := client.websocketURL("/v1/runs/" + args[0] + "/events")

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		os.Exit(1)
	}
	defer ws.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			// A plain connection drop after the final event is normal.
			return
		}
		printEventMessage(data)
	}
}

// printEventMessage renders one websocket message. The first message is
// a full snapshot; subsequent messages are single events.
func printEventMessage(data []byte) {
	var snap runSnapshot
	if err := json.Unmarshal(data, &snap); err == nil && len(snap.Tasks) > 0 {
		fmt.Printf("run %s is %s with %d tasks\n", snap.RunID, snap.Status, len(snap.Tasks))
		for _, task := range snap.Tasks {
			fmt.Printf("  %s: %s\n", task.ID, task.State)
		}
		return
	}

	var ev struct {
		TaskID    string    `json:"task_id"`
		TaskState string    `json:"task_state"`
		RunStatus string    `json:"run_status"`
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	when := ev.Timestamp.Format("15:04:05.000")
	if ev.TaskID == "" {
		fmt.Printf("%s  run %s\n", when, ev.RunStatus)
		return
	}
	line := fmt.Sprintf("%s  task %s -> %s", when, ev.TaskID, ev.TaskState)
	if ev.Error != "" {
		line += fmt.Sprintf(" (%s)", ev.Error)
	}
	fmt.Println(line)
}
