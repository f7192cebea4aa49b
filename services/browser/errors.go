// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package browser

import "errors"

// Sentinel errors for browser operations.
var (
	// ErrBrowserUnavailable indicates the headless browser could not start
	// or be configured.
	ErrBrowserUnavailable = errors.New("browser unavailable")

	// ErrCaptureFailed indicates navigation or screenshot capture failed.
	ErrCaptureFailed = errors.New("screenshot capture failed")

	// ErrOverflowScanFailed indicates the in-page overflow scan failed.
	ErrOverflowScanFailed = errors.New("overflow scan failed")
)
