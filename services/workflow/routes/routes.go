// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/kodiak/services/workflow/handlers"
	"github.com/AleutianAI/kodiak/services/workflow/scheduler"
)

func SetupRoutes(router *gin.Engine, engine *scheduler.Engine) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.POST("", handlers.SubmitRun(engine))
			runs.GET("", handlers.ListRuns(engine))
			runs.GET("/:runId", handlers.GetRun(engine))
			runs.POST("/:runId/cancel", handlers.CancelRun(engine))
			runs.POST("/:runId/tasks/:taskId/override", handlers.OverrideTask(engine))
			runs.GET("/:runId/audit", handlers.ListAudit(engine))
			runs.GET("/:runId/events", handlers.RunEvents(engine))
		}
	}
}
