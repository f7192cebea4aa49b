// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracebus

import "errors"

// Sentinel errors for trace bus operations.
var (
	// ErrUnknownNode indicates an event referenced a node that was never
	// created and whose type cannot create one.
	ErrUnknownNode = errors.New("unknown trace node")

	// ErrUnknownEventType indicates an event with an unrecognized type.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrBusClosed indicates the bus has been shut down.
	ErrBusClosed = errors.New("trace bus closed")
)
