// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup detaches the child into its own process group so the
// whole group (the dev server spawns workers) can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// gracefulKiller returns a terminator that signals the process group with
// SIGTERM, then SIGKILL after the grace period if the process has not
// exited. Kill errors are swallowed; the group may already be gone.
func gracefulKiller(pid int, grace time.Duration, exited <-chan struct{}) func() {
	return func() {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		go func() {
			select {
			case <-exited:
			case <-time.After(grace):
				_ = syscall.Kill(-pid, syscall.SIGKILL)
			}
		}()
	}
}
