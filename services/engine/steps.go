// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaggannadhan/VibeForge/services/browser"
	"github.com/jaggannadhan/VibeForge/services/provider"
	"github.com/jaggannadhan/VibeForge/services/sandbox"
	"github.com/jaggannadhan/VibeForge/services/tracebus"
	"github.com/jaggannadhan/VibeForge/services/workspace"
)

// Step keys, also the node-id segments of each pipeline step.
const (
	stepCodegen    = "codegen"
	stepPreview    = "preview"
	stepScreenshot = "screenshot"
	stepOverflow   = "overflow"
	stepScore      = "score"
	stepDecision   = "decision"
)

// previewPollInterval is how often preview status and route warm-up are
// polled.
const previewPollInterval = 500 * time.Millisecond

// maxOverflowForPrompt bounds how many offenders reach the next prompt.
const maxOverflowForPrompt = 10

// captureResult is one breakpoint's screenshot outcome.
type captureResult struct {
	breakpointID string
	png          []byte
	path         string
	err          error
}

// runIteration executes one full pipeline pass.
//
// Returns a non-empty stop reason when the run should terminate normally
// (threshold met), or an error when the iteration failed and the run must
// end. Overflow-scan failures are logged and swallowed.
func (r *Runner) runIteration(ctx context.Context, iteration int, threshold float64) (string, error) {
	ctx, span := tracer.Start(ctx, "engine.iteration")
	defer span.End()
	recordIteration(ctx)

	iterID := iterNodeID(iteration)
	r.stepStart(iterID, "iteration", fmt.Sprintf("Iteration %d", iteration))
	if r.plan != nil {
		r.emit(iterID, tracebus.EventNodeProgress, tracebus.Payload{FocusArea: r.plan.FocusArea})
	}

	// fail emits the step and iteration failure events. A failure caused by
	// Stop exits quietly instead; the cancelled run must not read as broken.
	fail := func(stepID string, err error) (string, error) {
		if r.stopped() {
			return "", ErrRunStopped
		}
		r.emit(stepID, tracebus.EventNodeFailed, tracebus.Payload{Message: err.Error()})
		r.emit(iterID, tracebus.EventNodeFailed, tracebus.Payload{Message: err.Error()})
		return "", err
	}

	// Step 1: code generation.
	codegenID := stepNodeID(iteration, stepCodegen)
	r.stepStart(codegenID, stepCodegen, "Generate code")
	if err := r.generateCode(ctx, iteration, codegenID); err != nil {
		return fail(codegenID, err)
	}
	r.emit(codegenID, tracebus.EventNodeFinished, tracebus.Payload{})
	if r.stopped() {
		return "", ErrRunStopped
	}

	// Step 2: preview readiness + route warm-up.
	previewID := stepNodeID(iteration, stepPreview)
	r.stepStart(previewID, stepPreview, "Wait for preview")
	previewURL, err := r.awaitPreview(ctx)
	if err != nil {
		return fail(previewID, err)
	}
	r.emit(previewID, tracebus.EventNodeFinished, tracebus.Payload{Message: previewURL})
	if r.stopped() {
		return "", ErrRunStopped
	}

	// Step 3: screenshot capture per breakpoint.
	screenshotID := stepNodeID(iteration, stepScreenshot)
	r.stepStart(screenshotID, stepScreenshot, "Capture screenshots")
	captures, err := r.captureBreakpoints(ctx, iteration, previewURL)
	if err != nil {
		return fail(screenshotID, err)
	}
	r.emit(screenshotID, tracebus.EventNodeFinished, tracebus.Payload{})

	// The snapshot exists for every iteration that completed its screenshot
	// step, accepted or not; rollback and historical previews depend on it.
	if err := r.deps.Snapshots.Create(r.projectID, iteration, r.deps.Workspace.Dir()); err != nil {
		r.deps.Logger.Warn("snapshot create failed",
			slog.Int("iteration", iteration),
			slog.Any("error", err),
		)
	}
	if r.stopped() {
		return "", ErrRunStopped
	}

	// Step 4: overflow inspection. Best-effort.
	overflowID := stepNodeID(iteration, stepOverflow)
	r.stepStart(overflowID, stepOverflow, "Inspect overflow")
	if err := r.inspectOverflow(ctx, iteration, overflowID, previewURL); err != nil {
		r.deps.Logger.Warn("overflow scan failed",
			slog.Int("iteration", iteration),
			slog.Any("error", err),
		)
		r.lastOverflow = ""
		r.emit(overflowID, tracebus.EventNodeFinished, tracebus.Payload{
			Status:  tracebus.StatusError,
			Message: err.Error(),
		})
	} else {
		r.emit(overflowID, tracebus.EventNodeFinished, tracebus.Payload{})
	}
	if r.stopped() {
		return "", ErrRunStopped
	}

	// Step 5: visual scoring.
	scoreID := stepNodeID(iteration, stepScore)
	r.stepStart(scoreID, stepScore, "Score against baselines")
	agg, err := r.scoreCaptures(ctx, captures)
	if err != nil {
		return fail(scoreID, err)
	}
	overall := Overall(agg, r.cfg.Weights)
	recordScore(ctx, overall)
	r.emit(scoreID, tracebus.EventNodeFinished, tracebus.Payload{Score: &overall})
	if r.stopped() {
		return "", ErrRunStopped
	}

	// Step 6: decision and snapshot.
	return r.decide(iteration, agg, overall, threshold)
}

// =============================================================================
// STEP 1: CODE GENERATION
// =============================================================================

// generateCode calls the code-gen provider and applies its change set.
func (r *Runner) generateCode(ctx context.Context, iteration int, nodeID string) error {
	genCtx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancelGen = cancel
	r.cancelMu.Unlock()
	defer func() {
		cancel()
		r.cancelMu.Lock()
		r.cancelGen = nil
		r.cancelMu.Unlock()
	}()

	req, err := r.buildCodeGenRequest()
	if err != nil {
		return err
	}

	result, err := r.deps.CodeGen.Generate(genCtx, req)
	if err != nil {
		return fmt.Errorf("code generation: %w", err)
	}

	var written *workspace.WriteResult
	if result.Patch != "" {
		fileDiffs, err := workspace.ParsePatch(result.Patch)
		if err != nil {
			return err
		}
		stats := workspace.PatchStats(fileDiffs)
		if r.plan != nil {
			budget := workspace.Budget{
				MaxFilesChanged: r.plan.Budgets.MaxFilesChanged,
				MaxLinesChanged: r.plan.Budgets.MaxLinesChanged,
			}
			if err := workspace.CheckBudget(stats, budget); err != nil {
				// The budget is guidance to the model, not a hard gate; an
				// oversized patch still applies but is called out in the trace.
				r.deps.Logger.Warn("patch exceeds plan budget", slog.Any("error", err))
				r.emit(nodeID, tracebus.EventNodeProgress, tracebus.Payload{Message: err.Error()})
			}
		}
		written, err = r.deps.Workspace.ApplyPatch(fileDiffs)
		if err != nil {
			return err
		}
	} else {
		written, err = r.deps.Workspace.WriteFiles(result.Files)
		if err != nil {
			return err
		}
	}

	r.lastWritten = written.WrittenPaths
	for _, path := range written.WrittenPaths {
		r.emit(nodeID, tracebus.EventArtifactAdded, tracebus.Payload{
			Artifact: &tracebus.Artifact{Kind: "file", Path: path},
		})
	}

	r.deps.Logger.Info("code generated",
		slog.Int("iteration", iteration),
		slog.Int("files", len(written.WrittenPaths)),
		slog.Int("lines_changed", written.Stats.TotalLines()),
	)
	return nil
}

// buildCodeGenRequest assembles the provider request from the pack, the
// workspace, and the run state.
func (r *Runner) buildCodeGenRequest() (provider.CodeGenRequest, error) {
	targetID := r.deps.Pack.Manifest.RunDefaults.TargetID
	nodes := r.deps.Pack.IR.NodesForTarget(targetID)
	if nodes == nil {
		return provider.CodeGenRequest{}, fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	irSummary, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return provider.CodeGenRequest{}, fmt.Errorf("marshaling ir summary: %w", err)
	}

	files, err := r.deps.Workspace.ListSourceFiles()
	if err != nil {
		return provider.CodeGenRequest{}, fmt.Errorf("listing workspace: %w", err)
	}

	var prevCode strings.Builder
	for _, path := range r.lastWritten {
		contents, err := r.deps.Workspace.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&prevCode, "// %s\n%s\n\n", path, contents)
	}

	req := provider.CodeGenRequest{
		IRSummary:      string(irSummary),
		WorkspaceFiles: files,
		PreviousCode:   prevCode.String(),
		PreviousScore:  r.prevScore,
		OverflowText:   r.lastOverflow,
	}
	if r.plan != nil {
		req.PlanText = r.plan.Text()
	}
	return req, nil
}

// =============================================================================
// STEP 2: PREVIEW READINESS
// =============================================================================

// awaitPreview starts the current preview, polls until it is ready, and
// warms the target route.
func (r *Runner) awaitPreview(ctx context.Context) (string, error) {
	if _, err := r.deps.Previews.StartCurrent(ctx, r.projectID, r.deps.Workspace.Dir()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPreviewFailed, err)
	}

	deadline := time.Now().Add(r.cfg.PreviewReadyTimeout)
	var status sandbox.Status
	for {
		if r.stopped() {
			return "", ErrRunStopped
		}
		status = r.deps.Previews.StatusCurrent(r.projectID)
		if status.State == sandbox.StateReady {
			break
		}
		if status.State == sandbox.StateError {
			return "", fmt.Errorf("%w: %s", ErrPreviewFailed, status.Error)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: not ready after %s", ErrPreviewFailed, r.cfg.PreviewReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(previewPollInterval):
		}
	}

	target := r.deps.Pack.Manifest.TargetByID(r.deps.Pack.Manifest.RunDefaults.TargetID)
	routeURL := status.PreviewURL + target.Route
	if err := r.warmRoute(ctx, routeURL); err != nil {
		return "", err
	}
	return routeURL, nil
}

// warmRoute polls the route until a non-404 response, then pauses for
// in-place recompilation to settle.
func (r *Runner) warmRoute(ctx context.Context, routeURL string) error {
	deadline := time.Now().Add(r.cfg.RouteWarmTimeout)
	for {
		if r.stopped() {
			return ErrRunStopped
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, routeURL, nil)
		if err != nil {
			return fmt.Errorf("warming route: %w", err)
		}
		resp, err := r.deps.HTTPClient.Do(req)
		if err == nil {
			code := resp.StatusCode
			_ = resp.Body.Close()
			if code != http.StatusNotFound {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.cfg.RecompileSettle):
				}
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: route %s never warmed", ErrPreviewFailed, routeURL)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(previewPollInterval):
		}
	}
}

// =============================================================================
// STEP 3: SCREENSHOT CAPTURE
// =============================================================================

// captureBreakpoints screenshots the route at every breakpoint. Individual
// failures are non-fatal; only a total wipeout fails the step.
func (r *Runner) captureBreakpoints(ctx context.Context, iteration int, routeURL string) ([]captureResult, error) {
	breakpoints := r.deps.Pack.Manifest.Breakpoints
	results := make([]captureResult, len(breakpoints))

	outDir := filepath.Join(r.deps.ArtifactsDir, "snapshots", r.runID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, bp := range breakpoints {
		bpNodeID := stepNodeID(iteration, stepScreenshot) + "-" + bp.BreakpointID
		r.stepStart(bpNodeID, "screenshot-breakpoint", bp.BreakpointID)

		g.Go(func() error {
			png, err := r.deps.Capturer.Screenshot(gctx, routeURL, browser.Viewport{
				Width:             bp.Width,
				Height:            bp.Height,
				DeviceScaleFactor: bp.DeviceScaleFactor,
			})
			if err != nil {
				results[i] = captureResult{breakpointID: bp.BreakpointID, err: err}
				r.emit(bpNodeID, tracebus.EventNodeFailed, tracebus.Payload{Message: err.Error()})
				return nil // per-breakpoint failures do not cancel siblings
			}

			path := filepath.Join(outDir, bp.BreakpointID+".png")
			if err := os.WriteFile(path, png, 0o644); err != nil {
				results[i] = captureResult{breakpointID: bp.BreakpointID, err: err}
				r.emit(bpNodeID, tracebus.EventNodeFailed, tracebus.Payload{Message: err.Error()})
				return nil
			}

			results[i] = captureResult{breakpointID: bp.BreakpointID, png: png, path: path}
			r.emit(bpNodeID, tracebus.EventArtifactAdded, tracebus.Payload{
				Artifact: &tracebus.Artifact{Kind: "screenshot", Path: path, Size: int64(len(png))},
			})
			r.emit(bpNodeID, tracebus.EventNodeFinished, tracebus.Payload{})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ok []captureResult
	for _, res := range results {
		if res.err == nil {
			ok = append(ok, res)
		}
	}
	if len(ok) == 0 {
		return nil, ErrAllCapturesFailed
	}
	return ok, nil
}

// =============================================================================
// STEP 4: OVERFLOW INSPECTION
// =============================================================================

// inspectOverflow scans the primary breakpoint for overflow offenders and
// feeds the top of the report into the next prompt.
func (r *Runner) inspectOverflow(ctx context.Context, iteration int, nodeID, routeURL string) error {
	bp := r.deps.Pack.Manifest.PrimaryBreakpoint()
	offenders, err := r.deps.Capturer.ScanOverflow(ctx, routeURL, browser.Viewport{
		Width:             bp.Width,
		Height:            bp.Height,
		DeviceScaleFactor: bp.DeviceScaleFactor,
	})
	if err != nil {
		return err
	}

	report, err := json.MarshalIndent(offenders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling overflow report: %w", err)
	}
	path := filepath.Join(r.deps.ArtifactsDir, "snapshots", r.runID, fmt.Sprintf("iter-%d-overflow.json", iteration))
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return fmt.Errorf("writing overflow report: %w", err)
	}
	r.emit(nodeID, tracebus.EventArtifactAdded, tracebus.Payload{
		Artifact: &tracebus.Artifact{Kind: "overflow-report", Path: path, Size: int64(len(report))},
	})

	r.lastOverflow = formatOverflow(offenders)
	return nil
}

// formatOverflow renders the top offenders for the next prompt.
func formatOverflow(offenders []browser.Offender) string {
	if len(offenders) == 0 {
		return ""
	}
	if len(offenders) > maxOverflowForPrompt {
		offenders = offenders[:maxOverflowForPrompt]
	}
	var b strings.Builder
	for _, off := range offenders {
		fmt.Fprintf(&b, "- %s <%s> overflows by %dpx (scroll %d, client %d)",
			off.Selector, off.Tag, off.OverflowPx, off.ScrollWidth, off.ClientWidth)
		if off.FigmaNodeID != "" {
			fmt.Fprintf(&b, " [node %s]", off.FigmaNodeID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// STEP 5: VISUAL SCORING
// =============================================================================

// scoreCaptures scores every captured breakpoint against its baseline and
// aggregates dimension-wise.
func (r *Runner) scoreCaptures(ctx context.Context, captures []captureResult) (provider.Scores, error) {
	targetID := r.deps.Pack.Manifest.RunDefaults.TargetID
	stateID := r.deps.Pack.Manifest.States[0].StateID

	nodes := r.deps.Pack.IR.NodesForTarget(targetID)
	irSummary, err := json.Marshal(nodes)
	if err != nil {
		return provider.Scores{}, fmt.Errorf("marshaling ir summary: %w", err)
	}

	var all []provider.Scores
	for _, capture := range captures {
		if r.stopped() {
			return provider.Scores{}, ErrRunStopped
		}
		baselinePath, err := r.deps.Pack.BaselinePath(targetID, capture.breakpointID, stateID)
		if err != nil {
			return provider.Scores{}, err
		}
		baseline, err := os.ReadFile(baselinePath)
		if err != nil {
			return provider.Scores{}, fmt.Errorf("reading baseline for %s: %w", capture.breakpointID, err)
		}

		scores, err := r.deps.Scorer.Score(ctx, provider.ScoreRequest{
			BaselinePNG:  baseline,
			CandidatePNG: capture.png,
			IRSummary:    string(irSummary),
		})
		if err != nil {
			return provider.Scores{}, fmt.Errorf("scoring %s: %w", capture.breakpointID, err)
		}
		all = append(all, scores)
	}

	return MeanScores(all), nil
}

// =============================================================================
// STEP 6: DECISION AND SNAPSHOT
// =============================================================================

// decide applies the acceptance decision (restoring the best iteration's
// snapshot on rejection), updates locks, manages the isBest flag, and checks
// the pack threshold. The snapshot itself is created in runIteration.
func (r *Runner) decide(iteration int, agg provider.Scores, overall float64, threshold float64) (string, error) {
	iterID := iterNodeID(iteration)
	decisionID := stepNodeID(iteration, stepDecision)
	r.stepStart(decisionID, stepDecision, "Decide")

	acceptance := r.scorekeeper.Evaluate(iteration, overall)
	nodes := r.deps.Pack.IR.NodesForTarget(r.deps.Pack.Manifest.RunDefaults.TargetID)
	if added := r.locks.Update(agg, nodes); len(added) > 0 {
		r.emit(decisionID, tracebus.EventNodeProgress, tracebus.Payload{
			Message: fmt.Sprintf("locked %d nodes: %s", len(added), strings.Join(added, ", ")),
		})
	}

	if acceptance.Accepted {
		r.history = append(r.history, overall)
		r.rejections = 0
		aggCopy := agg
		r.prevScore = &aggCopy

		// Migrate the isBest flag.
		if r.bestEmitted >= 0 && r.bestEmitted != iteration {
			notBest := false
			r.emit(iterNodeID(r.bestEmitted), tracebus.EventNodeFinished, tracebus.Payload{IsBest: &notBest})
		}
		r.bestEmitted = iteration
		best := true
		r.emit(iterID, tracebus.EventNodeFinished, tracebus.Payload{
			Score:    &overall,
			Decision: acceptance.Reason,
			IsBest:   &best,
		})
	} else {
		r.rejections++
		r.emit(iterID, tracebus.EventNodeFinished, tracebus.Payload{
			Status:   tracebus.StatusError,
			Score:    &overall,
			Decision: acceptance.Reason,
		})

		// Roll the workspace back to the best iteration's snapshot. A failed
		// restore is logged; the run continues with whatever state exists.
		if _, bestIter, ok := r.scorekeeper.Best(); ok && r.deps.Snapshots.Has(r.projectID, bestIter) {
			if err := r.deps.Snapshots.Restore(r.projectID, bestIter, r.deps.Workspace.Dir()); err != nil {
				r.deps.Logger.Warn("workspace restore failed",
					slog.Int("best_iteration", bestIter),
					slog.Any("error", err),
				)
			}
		}
	}

	r.emit(decisionID, tracebus.EventNodeFinished, tracebus.Payload{Decision: acceptance.Reason})

	// Plan the next iteration from this one's scores.
	r.plan = r.planner.Plan(agg, nodes, r.locks)

	if acceptance.Accepted && overall >= threshold {
		return StopThresholdMet, nil
	}
	return "", nil
}
