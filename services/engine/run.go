// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the closed-loop controller of a refinement run: it
// drives code generation, preview readiness, screenshot capture, overflow
// inspection, visual scoring, and the accept/reject/stop decision logic,
// iteration after iteration, until a stop condition fires.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jaggannadhan/VibeForge/services/browser"
	"github.com/jaggannadhan/VibeForge/services/pack"
	"github.com/jaggannadhan/VibeForge/services/provider"
	"github.com/jaggannadhan/VibeForge/services/sandbox"
	"github.com/jaggannadhan/VibeForge/services/tracebus"
	"github.com/jaggannadhan/VibeForge/services/workspace"
)

// PreviewManager is the slice of the sandbox manager the runner needs.
type PreviewManager interface {
	StartCurrent(ctx context.Context, projectID, workspaceDir string) (sandbox.Status, error)
	StatusCurrent(projectID string) sandbox.Status
}

// SnapshotStore is the slice of the snapshot store the runner needs.
type SnapshotStore interface {
	Create(projectID string, iteration int, workspaceDir string) error
	Restore(projectID string, iteration int, workspaceDir string) error
	Has(projectID string, iteration int) bool
}

// Deps are the collaborators a run drives. All are required except
// HTTPClient (defaults to http.DefaultClient) and Logger.
type Deps struct {
	Pack         *pack.Pack
	Workspace    *workspace.Workspace
	Previews     PreviewManager
	Snapshots    SnapshotStore
	CodeGen      provider.CodeGenerator
	Scorer       provider.Scorer
	Capturer     browser.Capturer
	Bus          *tracebus.Bus
	HTTPClient   *http.Client
	ArtifactsDir string
	Logger       *slog.Logger
}

// RunResult is a finished run's summary.
type RunResult struct {
	RunID         string
	Status        string // success | error
	StopReason    string
	Iterations    int
	BestIteration int
	BestScore     float64
	Err           error
}

// Runner executes one refinement run. One instance per run; a Runner is
// never reused.
//
// # Stop Semantics
//
// Stop sets the stop flag and cancels the outstanding code-gen call. Every
// suspension point in the run checks the flag; the earliest check after
// Stop exits without emitting a success event. The runFinished event is
// emitted exactly once.
type Runner struct {
	cfg  Config
	deps Deps

	projectID string
	runID     string

	scorekeeper *Scorekeeper
	stopCtl     *StopController
	locks       *LockManager
	planner     *PatchPlanner

	// Iteration state.
	prevScore    *provider.Scores
	plan         *PatchPlan
	lastOverflow string
	lastWritten  []string
	history      []float64
	rejections   int
	bestEmitted  int
	startTime    time.Time

	stopFlag  atomic.Bool
	cancelMu  sync.Mutex
	cancelGen context.CancelFunc

	finishOnce sync.Once
	doneCh     chan struct{}
	result     RunResult
}

// NewRunner creates a runner for one run of a project.
func NewRunner(cfg Config, projectID string, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	return &Runner{
		cfg:         cfg,
		deps:        deps,
		projectID:   projectID,
		runID:       uuid.New().String(),
		scorekeeper: NewScorekeeper(cfg.Epsilon),
		stopCtl:     NewStopController(cfg),
		locks:       NewLockManager(cfg),
		planner:     NewPatchPlanner(cfg),
		bestEmitted: -1,
		doneCh:      make(chan struct{}),
	}
}

// RunID returns the run's identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// Done is closed when the run has finished (any status).
func (r *Runner) Done() <-chan struct{} {
	return r.doneCh
}

// Result returns the run summary; only valid after Done is closed.
func (r *Runner) Result() RunResult {
	return r.result
}

// Stop requests cancellation: sets the stop flag and cancels the
// outstanding code-gen call. Safe to call from any goroutine, repeatedly.
func (r *Runner) Stop() {
	r.stopFlag.Store(true)
	r.cancelMu.Lock()
	if r.cancelGen != nil {
		r.cancelGen()
	}
	r.cancelMu.Unlock()
}

// stopped reports whether Stop has been requested. Consulted at every
// suspension point.
func (r *Runner) stopped() bool {
	return r.stopFlag.Load()
}

// Run executes the refinement loop to completion. Blocking; callers run it
// on its own goroutine and watch Done.
func (r *Runner) Run(ctx context.Context) RunResult {
	ctx, span := tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("project_id", r.projectID),
			attribute.String("run_id", r.runID),
		),
	)
	defer span.End()

	r.startTime = time.Now()
	maxIterations := r.deps.Pack.Manifest.RunDefaults.MaxIterations
	threshold := r.deps.Pack.Manifest.RunDefaults.Threshold

	r.deps.Bus.StartRun(r.projectID, r.runID, r.deps.Pack.Manifest.ProjectName)
	r.emit(tracebus.RootNodeID, tracebus.EventNodeStarted, tracebus.Payload{
		Title: fmt.Sprintf("Refining %s", r.deps.Pack.Manifest.ProjectName),
	})

	r.deps.Logger.Info("run started",
		slog.String("project_id", r.projectID),
		slog.String("run_id", r.runID),
		slog.Int("max_iterations", maxIterations),
		slog.Float64("threshold", threshold),
	)

	var stopReason string
	var iterations int
	for iter := 0; iter < maxIterations; iter++ {
		if r.stopped() {
			return r.finishCancelled(iterations)
		}

		reason, err := r.runIteration(ctx, iter, threshold)
		if err != nil {
			if r.stopped() {
				return r.finishCancelled(iterations)
			}
			return r.finishError(iter, err)
		}
		iterations = iter + 1
		if reason != "" {
			stopReason = reason
			break
		}

		decision := r.stopCtl.Evaluate(StopInput{
			Iteration:             iter,
			MaxIterations:         maxIterations,
			AcceptedScoreHistory:  r.history,
			ConsecutiveRejections: r.rejections,
			StartTime:             r.startTime,
		})
		if decision.Stop {
			stopReason = decision.Reason
			break
		}
	}
	if stopReason == "" {
		stopReason = StopMaxIterations
	}

	return r.finishSuccess(stopReason, iterations)
}

// =============================================================================
// RUN COMPLETION
// =============================================================================

func (r *Runner) finishSuccess(stopReason string, iterations int) RunResult {
	best, bestIter, _ := r.scorekeeper.Best()
	r.finishOnce.Do(func() {
		r.emit(tracebus.RootNodeID, tracebus.EventNodeFinished, tracebus.Payload{
			Message: fmt.Sprintf("stopped: %s", stopReason),
			Score:   &best,
		})
		r.deps.Bus.FinishRun(r.projectID, r.runID, "success")
		r.result = RunResult{
			RunID:         r.runID,
			Status:        "success",
			StopReason:    stopReason,
			Iterations:    iterations,
			BestIteration: bestIter,
			BestScore:     best,
		}
		recordRunFinished(context.Background(), "success", time.Since(r.startTime))
		r.deps.Logger.Info("run finished",
			slog.String("run_id", r.runID),
			slog.String("stop_reason", stopReason),
			slog.Int("iterations", iterations),
			slog.Float64("best_score", best),
		)
		close(r.doneCh)
	})
	return r.result
}

func (r *Runner) finishError(iteration int, err error) RunResult {
	best, bestIter, _ := r.scorekeeper.Best()
	r.finishOnce.Do(func() {
		r.emit(tracebus.RootNodeID, tracebus.EventNodeFailed, tracebus.Payload{
			Message: err.Error(),
		})
		r.deps.Bus.FinishRun(r.projectID, r.runID, "error")
		r.result = RunResult{
			RunID:         r.runID,
			Status:        "error",
			Iterations:    iteration,
			BestIteration: bestIter,
			BestScore:     best,
			Err:           err,
		}
		recordRunFinished(context.Background(), "error", time.Since(r.startTime))
		r.deps.Logger.Error("run failed",
			slog.String("run_id", r.runID),
			slog.Int("iteration", iteration),
			slog.Any("error", err),
		)
		close(r.doneCh)
	})
	return r.result
}

func (r *Runner) finishCancelled(iterations int) RunResult {
	best, bestIter, _ := r.scorekeeper.Best()
	r.finishOnce.Do(func() {
		r.deps.Bus.FinishRun(r.projectID, r.runID, "error")
		r.result = RunResult{
			RunID:         r.runID,
			Status:        "error",
			StopReason:    StopCancelled,
			Iterations:    iterations,
			BestIteration: bestIter,
			BestScore:     best,
			Err:           ErrRunStopped,
		}
		recordRunFinished(context.Background(), "cancelled", time.Since(r.startTime))
		r.deps.Logger.Info("run cancelled",
			slog.String("run_id", r.runID),
			slog.Int("iterations", iterations),
		)
		close(r.doneCh)
	})
	return r.result
}

// =============================================================================
// TRACE EMISSION
// =============================================================================

// emit publishes one event for this run's project.
func (r *Runner) emit(nodeID string, eventType tracebus.EventType, payload tracebus.Payload) {
	event := tracebus.NewEvent(r.projectID, nodeID, eventType, payload)
	event.PackID = r.deps.Pack.PackID
	r.deps.Bus.Publish(event)
}

// stepStart emits the created+started pair for a pipeline step node.
func (r *Runner) stepStart(nodeID, stepKey, title string) {
	r.emit(nodeID, tracebus.EventNodeCreated, tracebus.Payload{StepKey: stepKey, Title: title})
	r.emit(nodeID, tracebus.EventNodeStarted, tracebus.Payload{})
}

func iterNodeID(iteration int) string {
	return fmt.Sprintf("root-iter%d", iteration)
}

func stepNodeID(iteration int, step string) string {
	return fmt.Sprintf("root-iter%d-%s", iteration, step)
}
