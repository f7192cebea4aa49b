// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the thin HTTP/WebSocket surface over the refinement core:
// run control, preview status, trace snapshots, subscriber streams, and
// metrics. All heavy lifting lives in the engine, sandbox, snapshot, and
// tracebus services.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes wires the API onto a gin engine.
func SetupRoutes(router *gin.Engine, s *Server) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		projects := apiGroup.Group("/projects/:projectId")
		{
			projects.POST("/runs", s.HandleStartRun)
			projects.DELETE("/runs", s.HandleStopRun)
			projects.GET("/runs", s.HandleRunStatus)
			projects.GET("/trace", s.HandleTraceSnapshot)
			projects.GET("/preview", s.HandlePreviewStatus)
			projects.POST("/preview/stop", s.HandlePreviewStop)
			previews := projects.Group("/iterations/:iteration")
			{
				previews.POST("/preview", s.HandleHistoricalPreviewStart)
				previews.GET("/preview", s.HandleHistoricalPreviewStatus)
			}
		}
	}

	router.GET("/ws/:projectId", s.HandleSubscribe)
}
