// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/kodiak/services/workflow/scheduler"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// RunEvents streams a run's state changes over a websocket.
//
// Description:
//
//	Each message is one scheduler.Event as JSON. The stream ends when the
//	run reaches a terminal status (the final event carries it) or the
//	client disconnects. Subscribers that stop reading miss events rather
//	than stalling the scheduler.
func RunEvents(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		events, release, err := engine.Subscribe(runID)
		if err != nil {
			if errors.Is(err, scheduler.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		defer release()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "run_id", runID, "error", err)
			return
		}
		defer ws.Close()

		// Drain client frames so close messages are processed.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Send the current snapshot first so late subscribers see where
		// the run already is.
		if snap, err := engine.Snapshot(runID); err == nil {
			if err := ws.WriteJSON(snap); err != nil {
				return
			}
			if snap.Status.IsTerminal() {
				return
			}
		}

		for {
			select {
			case <-clientGone:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
				if ev.TaskID == "" && ev.RunStatus.IsTerminal() {
					return
				}
			}
		}
	}
}
