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

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestManager returns a manager whose launch immediately marks processes
// ready and counts kills instead of spawning subprocesses.
func newTestManager(t *testing.T, kills *atomic.Int32) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ReapInterval = time.Hour // keep the real reaper quiet during tests
	m := NewManager(cfg, nil)
	m.launch = func(ctx context.Context, p *Process) {
		m.setPID(p, 12345, func() {
			if kills != nil {
				kills.Add(1)
			}
		})
		m.markReady(p)
	}
	t.Cleanup(m.StopAll)
	return m
}

func waitForState(t *testing.T, get func() Status, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status := get(); status.State == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %q", want)
	return Status{}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxHistorical != 2 {
		t.Errorf("MaxHistorical = %d, want 2", cfg.MaxHistorical)
	}
	if cfg.ReadyTimeout != 120*time.Second {
		t.Errorf("ReadyTimeout = %v, want 120s", cfg.ReadyTimeout)
	}
	if cfg.CurrentTTL != 30*time.Minute {
		t.Errorf("CurrentTTL = %v, want 30m", cfg.CurrentTTL)
	}
	if cfg.HistoricalTTL != 10*time.Minute {
		t.Errorf("HistoricalTTL = %v, want 10m", cfg.HistoricalTTL)
	}
}

func TestStartCurrent_ReturnsSameProcessWhileLive(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.StartCurrent(ctx, "p1", t.TempDir())
	if err != nil {
		t.Fatalf("StartCurrent: %v", err)
	}
	first := waitForState(t, func() Status { return m.StatusCurrent("p1") }, StateReady)

	again, err := m.StartCurrent(ctx, "p1", t.TempDir())
	if err != nil {
		t.Fatalf("second StartCurrent: %v", err)
	}
	if again.PreviewURL != first.PreviewURL {
		t.Errorf("live restart changed URL: %q vs %q", again.PreviewURL, first.PreviewURL)
	}
	if again.State != StateReady {
		t.Errorf("live restart state = %q, want ready", again.State)
	}
}

func TestStatus_UnknownKeyIsStopped(t *testing.T) {
	m := newTestManager(t, nil)
	if status := m.StatusCurrent("nope"); status.State != StateStopped {
		t.Errorf("unknown current = %q, want stopped", status.State)
	}
	if status := m.StatusHistorical("nope", 3); status.State != StateStopped {
		t.Errorf("unknown historical = %q, want stopped", status.State)
	}
}

func TestStartHistorical_LRUEviction(t *testing.T) {
	var kills atomic.Int32
	m := newTestManager(t, &kills)
	ctx := context.Background()

	for iter := 0; iter <= 1; iter++ {
		if _, err := m.StartHistorical(ctx, "p1", iter, t.TempDir()); err != nil {
			t.Fatalf("StartHistorical(%d): %v", iter, err)
		}
		waitForState(t, func() Status { return m.StatusHistorical("p1", iter) }, StateReady)
	}
	// Touch 1 so 0 is the LRU victim.
	m.StatusHistorical("p1", 0)
	time.Sleep(5 * time.Millisecond)
	m.StatusHistorical("p1", 1)

	if _, err := m.StartHistorical(ctx, "p1", 2, t.TempDir()); err != nil {
		t.Fatalf("StartHistorical(2): %v", err)
	}
	waitForState(t, func() Status { return m.StatusHistorical("p1", 2) }, StateReady)

	if kills.Load() != 1 {
		t.Errorf("kills = %d, want 1 (evicted preview killed)", kills.Load())
	}
	if status := m.StatusHistorical("p1", 0); status.State != StateStopped {
		t.Errorf("evicted preview state = %q, want stopped", status.State)
	}
	for _, iter := range []int{1, 2} {
		if status := m.StatusHistorical("p1", iter); status.State != StateReady {
			t.Errorf("historical %d state = %q, want ready", iter, status.State)
		}
	}
}

func TestStop_RemovesAndKills(t *testing.T) {
	var kills atomic.Int32
	m := newTestManager(t, &kills)
	ctx := context.Background()

	if _, err := m.StartCurrent(ctx, "p1", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, func() Status { return m.StatusCurrent("p1") }, StateReady)

	m.StopCurrent("p1")
	if kills.Load() != 1 {
		t.Errorf("kills = %d, want 1", kills.Load())
	}
	if status := m.StatusCurrent("p1"); status.State != StateStopped {
		t.Errorf("stopped preview reports %q", status.State)
	}
}

func TestStopAll_KillsEverythingAndCloses(t *testing.T) {
	var kills atomic.Int32
	m := newTestManager(t, &kills)
	ctx := context.Background()

	if _, err := m.StartCurrent(ctx, "p1", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartHistorical(ctx, "p1", 0, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, func() Status { return m.StatusCurrent("p1") }, StateReady)
	waitForState(t, func() Status { return m.StatusHistorical("p1", 0) }, StateReady)

	m.StopAll()
	if kills.Load() != 2 {
		t.Errorf("kills = %d, want 2", kills.Load())
	}

	if _, err := m.StartCurrent(ctx, "p1", t.TempDir()); err != ErrManagerClosed {
		t.Errorf("StartCurrent after StopAll: %v, want ErrManagerClosed", err)
	}
	m.StopAll() // idempotent
}

func TestReapOnce_RemovesIdleReady(t *testing.T) {
	var kills atomic.Int32
	m := newTestManager(t, &kills)
	ctx := context.Background()

	if _, err := m.StartCurrent(ctx, "p1", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, func() Status { return m.StatusCurrent("p1") }, StateReady)

	// Not idle long enough: survives.
	m.reapOnce(time.Now())
	if status := m.StatusCurrent("p1"); status.State != StateReady {
		t.Fatalf("fresh preview reaped prematurely: %q", status.State)
	}

	// Well past the current TTL: reaped.
	m.reapOnce(time.Now().Add(m.cfg.CurrentTTL + time.Minute))
	if status := m.StatusCurrent("p1"); status.State != StateStopped {
		t.Errorf("idle preview state = %q, want stopped", status.State)
	}
	if kills.Load() != 1 {
		t.Errorf("kills = %d, want 1", kills.Load())
	}
}

func TestLifecycle_NoManifestNoTemplate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReapInterval = time.Hour
	m := NewManager(cfg, nil)
	t.Cleanup(m.StopAll)

	if _, err := m.StartCurrent(context.Background(), "p1", t.TempDir()); err != nil {
		t.Fatalf("StartCurrent: %v", err)
	}
	status := waitForState(t, func() Status { return m.StatusCurrent("p1") }, StateError)
	if !strings.Contains(status.Error, "no package manifest") {
		t.Errorf("error = %q, want no package manifest", status.Error)
	}
}

func TestTailBuffer_KeepsTrailingBytes(t *testing.T) {
	tail := newTailBuffer(8)
	tail.WriteString("0123456789abcdef")
	if got := tail.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want trailing 8 bytes", got)
	}
}

func TestScanForSentinel(t *testing.T) {
	for _, marker := range []string{"Ready in 1.2s", "✓ Ready", "Local: http://localhost:3000"} {
		tail := newTailBuffer(1024)
		sentinel := make(chan struct{}, 1)
		scanForSentinel(strings.NewReader("compiling...\n"+marker+"\nmore output\n"), tail, sentinel)
		select {
		case <-sentinel:
		default:
			t.Errorf("sentinel not detected for %q", marker)
		}
	}

	tail := newTailBuffer(1024)
	sentinel := make(chan struct{}, 1)
	scanForSentinel(strings.NewReader("still compiling\nno marker here\n"), tail, sentinel)
	select {
	case <-sentinel:
		t.Error("sentinel fired without a marker")
	default:
	}
}

func TestScrubbedEnv(t *testing.T) {
	t.Setenv("NODE_OPTIONS", "--require /tmp/loader.js")
	t.Setenv("SOME_APP_VAR", "kept")

	env := scrubbedEnv([]string{"PORT=3000"})

	var sawPath, sawKept, sawPort bool
	for _, kv := range env {
		if strings.HasPrefix(kv, "NODE_OPTIONS=") {
			t.Error("NODE_OPTIONS leaked into child environment")
		}
		if strings.HasPrefix(kv, "PATH=") {
			sawPath = true
			if strings.Contains(kv, "PATH=") && !strings.Contains(kv, "/usr/bin") {
				t.Errorf("PATH not reset to known dirs: %q", kv)
			}
		}
		if kv == "SOME_APP_VAR=kept" {
			sawKept = true
		}
		if kv == "PORT=3000" {
			sawPort = true
		}
	}
	if !sawPath || !sawKept || !sawPort {
		t.Errorf("env missing entries: path=%v kept=%v port=%v", sawPath, sawKept, sawPort)
	}
}
