// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import "errors"

// Sentinel errors for snapshot operations.
var (
	// ErrSnapshotNotFound indicates no archive exists for the iteration.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrUnsafeArchivePath indicates an archive entry would escape its target
	// directory.
	ErrUnsafeArchivePath = errors.New("unsafe archive path")

	// ErrInvalidIteration indicates a negative iteration index.
	ErrInvalidIteration = errors.New("invalid iteration index")
)
