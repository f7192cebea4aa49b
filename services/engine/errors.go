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

import "errors"

// Sentinel errors for engine operations.
var (
	// ErrInvalidConfig indicates the engine configuration failed validation.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrRunStopped indicates the run was cancelled by Stop.
	ErrRunStopped = errors.New("run stopped")

	// ErrPreviewFailed indicates the preview never became ready.
	ErrPreviewFailed = errors.New("preview failed")

	// ErrAllCapturesFailed indicates every breakpoint screenshot failed.
	ErrAllCapturesFailed = errors.New("all breakpoint captures failed")

	// ErrRunActive indicates a run is already active for the project.
	// Starting a new run preempts the active one instead of returning
	// this, and no current code path returns it.
	ErrRunActive = errors.New("run already active")

	// ErrUnknownTarget indicates the pack's default target has no IR nodes.
	ErrUnknownTarget = errors.New("unknown render target")
)
