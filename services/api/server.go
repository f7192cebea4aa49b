// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
	"github.com/jaggannadhan/VibeForge/services/browser"
	"github.com/jaggannadhan/VibeForge/services/engine"
	"github.com/jaggannadhan/VibeForge/services/pack"
	"github.com/jaggannadhan/VibeForge/services/provider"
	"github.com/jaggannadhan/VibeForge/services/sandbox"
	"github.com/jaggannadhan/VibeForge/services/snapshot"
	"github.com/jaggannadhan/VibeForge/services/tracebus"
	"github.com/jaggannadhan/VibeForge/services/workspace"
)

// Server binds the refinement core to HTTP handlers.
type Server struct {
	cfg         engine.Config
	storageRoot string
	runs        *engine.RunManager
	sandboxes   *sandbox.Manager
	snapshots   *snapshot.Store
	bus         *tracebus.Bus
	codegen     provider.CodeGenerator
	scorer      provider.Scorer
	capturer    browser.Capturer
	logger      *slog.Logger
}

// NewServer creates the API server over the assembled core services.
func NewServer(
	cfg engine.Config,
	storageRoot string,
	runs *engine.RunManager,
	sandboxes *sandbox.Manager,
	snapshots *snapshot.Store,
	bus *tracebus.Bus,
	codegen provider.CodeGenerator,
	scorer provider.Scorer,
	capturer browser.Capturer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		storageRoot: storageRoot,
		runs:        runs,
		sandboxes:   sandboxes,
		snapshots:   snapshots,
		bus:         bus,
		codegen:     codegen,
		scorer:      scorer,
		capturer:    capturer,
		logger:      logger,
	}
}

// StartRunRequest is the body of POST /api/projects/:projectId/runs.
type StartRunRequest struct {
	PackID string `json:"packId" binding:"required"`
}

// HandleStartRun starts a refinement run, preempting any active one.
func (s *Server) HandleStartRun(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := validation.ValidateID(projectID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	packDir := filepath.Join(s.projectDir(projectID), "artifacts", "design-packs", req.PackID)
	designPack, err := pack.Load(req.PackID, packDir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deps := engine.Deps{
		Pack:         designPack,
		Workspace:    workspace.New(filepath.Join(s.projectDir(projectID), "workspace"), s.logger),
		Previews:     s.sandboxes,
		Snapshots:    s.snapshots,
		CodeGen:      s.codegen,
		Scorer:       s.scorer,
		Capturer:     s.capturer,
		Bus:          s.bus,
		ArtifactsDir: filepath.Join(s.projectDir(projectID), "artifacts"),
		Logger:       s.logger,
	}

	runID := s.runs.Start(context.Background(), s.cfg, projectID, deps)
	s.logger.Info("run requested",
		slog.String("project_id", projectID),
		slog.String("pack_id", req.PackID),
		slog.String("run_id", runID),
	)
	c.JSON(http.StatusAccepted, gin.H{"runId": runID, "projectId": projectID})
}

// HandleStopRun cancels the project's active run.
func (s *Server) HandleStopRun(c *gin.Context) {
	projectID := c.Param("projectId")
	stopped := s.runs.Stop(projectID)
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// HandleRunStatus reports whether a run is active and which.
func (s *Server) HandleRunStatus(c *gin.Context) {
	projectID := c.Param("projectId")
	runID, active := s.runs.Active(projectID)
	c.JSON(http.StatusOK, gin.H{"active": active, "runId": runID})
}

// HandleTraceSnapshot returns the project's current trace tree.
func (s *Server) HandleTraceSnapshot(c *gin.Context) {
	projectID := c.Param("projectId")
	tree := s.bus.TreeSnapshot(projectID)
	if tree == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded for project"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tree":               tree,
		"bestIterationIndex": s.bus.BestIterationIndex(projectID),
	})
}

// HandlePreviewStatus reports the current preview's status.
func (s *Server) HandlePreviewStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sandboxes.StatusCurrent(c.Param("projectId")))
}

// HandlePreviewStop stops the current preview.
func (s *Server) HandlePreviewStop(c *gin.Context) {
	s.sandboxes.StopCurrent(c.Param("projectId"))
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// HandleHistoricalPreviewStart extracts an iteration's snapshot and serves
// it from a historical preview.
func (s *Server) HandleHistoricalPreviewStart(c *gin.Context) {
	projectID := c.Param("projectId")
	iteration, err := strconv.Atoi(c.Param("iteration"))
	if err != nil || iteration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid iteration index"})
		return
	}

	runtimeDir, err := s.snapshots.Extract(projectID, iteration)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	status, err := s.sandboxes.StartHistorical(c.Request.Context(), projectID, iteration, runtimeDir)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleHistoricalPreviewStatus reports a historical preview's status.
func (s *Server) HandleHistoricalPreviewStatus(c *gin.Context) {
	iteration, err := strconv.Atoi(c.Param("iteration"))
	if err != nil || iteration < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid iteration index"})
		return
	}
	c.JSON(http.StatusOK, s.sandboxes.StatusHistorical(c.Param("projectId"), iteration))
}

func (s *Server) projectDir(projectID string) string {
	return filepath.Join(s.storageRoot, "projects", projectID)
}
