// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import "errors"

// Sentinel errors for workspace operations.
var (
	// ErrUnsafePath indicates a file path that is absolute or traverses
	// outside the workspace.
	ErrUnsafePath = errors.New("unsafe workspace path")

	// ErrNoFiles indicates a write request with zero files.
	ErrNoFiles = errors.New("no files to write")

	// ErrPatchParse indicates a unified diff that could not be parsed.
	ErrPatchParse = errors.New("patch parse failed")

	// ErrPatchApply indicates a hunk that could not be applied to the
	// original file contents.
	ErrPatchApply = errors.New("patch apply failed")

	// ErrBudgetExceeded indicates a change set larger than the patch plan
	// allows.
	ErrBudgetExceeded = errors.New("change budget exceeded")
)
