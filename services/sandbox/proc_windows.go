// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package sandbox

import (
	"os"
	"os/exec"
	"time"
)

// setProcessGroup is a no-op on Windows; there is no Unix process group to
// configure. Worker subprocesses of the dev server may outlive a kill.
func setProcessGroup(cmd *exec.Cmd) {}

// gracefulKiller returns a terminator that kills the direct child. Windows
// has no graceful signal, so the grace period is skipped.
func gracefulKiller(pid int, grace time.Duration, exited <-chan struct{}) func() {
	return func() {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Kill()
		}
	}
}
