// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "errors"

// Sentinel errors for sandbox operations.
var (
	// ErrNoManifest indicates the workspace has no build manifest and no
	// template is configured to heal it from.
	ErrNoManifest = errors.New("no package manifest")

	// ErrInstallFailed indicates the dependency install exited non-zero.
	ErrInstallFailed = errors.New("dependency install failed")

	// ErrSpawnFailed indicates the dev server process could not be started.
	ErrSpawnFailed = errors.New("dev server spawn failed")

	// ErrExitedEarly indicates the dev server exited before signalling
	// readiness.
	ErrExitedEarly = errors.New("dev server exited before ready")

	// ErrReadyTimeout indicates the readiness sentinel never appeared.
	ErrReadyTimeout = errors.New("dev server readiness timeout")

	// ErrManagerClosed indicates StopAll has already run.
	ErrManagerClosed = errors.New("sandbox manager closed")
)
