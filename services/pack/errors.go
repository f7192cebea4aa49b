// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pack

import "errors"

// Sentinel errors for pack loading.
var (
	// ErrInvalidPackID indicates the pack identifier failed validation.
	ErrInvalidPackID = errors.New("invalid pack id")

	// ErrManifestUnreadable indicates manifest.json is missing or unreadable.
	ErrManifestUnreadable = errors.New("manifest unreadable")

	// ErrManifestInvalid indicates manifest.json failed schema validation.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrIRUnreadable indicates design-ir.json is missing or unreadable.
	ErrIRUnreadable = errors.New("design ir unreadable")

	// ErrIRInvalid indicates design-ir.json failed schema validation.
	ErrIRInvalid = errors.New("design ir invalid")

	// ErrInvalidBaselineKey indicates a baseline lookup key failed validation.
	ErrInvalidBaselineKey = errors.New("invalid baseline key")
)
