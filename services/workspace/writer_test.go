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

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFiles(t *testing.T) {
	ws := New(t.TempDir(), nil)

	result, err := ws.WriteFiles([]GeneratedFile{
		{RelativePath: "src/app/page.tsx", Contents: "export default function Page() {}\n"},
		{RelativePath: "src/components/hero.tsx", Contents: "export function Hero() {}\n"},
	})
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	if len(result.WrittenPaths) != 2 {
		t.Errorf("wrote %d paths, want 2", len(result.WrittenPaths))
	}
	if result.Stats.FilesChanged != 2 {
		t.Errorf("FilesChanged = %d, want 2", result.Stats.FilesChanged)
	}

	got, err := ws.ReadFile("src/app/page.tsx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "export default function Page() {}\n" {
		t.Errorf("contents mismatch: %q", got)
	}
}

func TestWriteFiles_RejectsUnsafePaths(t *testing.T) {
	ws := New(t.TempDir(), nil)

	for _, path := range []string{"../outside.txt", "/etc/passwd", "src/../../evil"} {
		_, err := ws.WriteFiles([]GeneratedFile{{RelativePath: path, Contents: "x"}})
		if !errors.Is(err, ErrUnsafePath) {
			t.Errorf("WriteFiles(%q) error = %v, want ErrUnsafePath", path, err)
		}
	}
}

func TestWriteFiles_Empty(t *testing.T) {
	ws := New(t.TempDir(), nil)
	if _, err := ws.WriteFiles(nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("error = %v, want ErrNoFiles", err)
	}
}

func TestWriteFiles_ChangeStats(t *testing.T) {
	ws := New(t.TempDir(), nil)

	if _, err := ws.WriteFiles([]GeneratedFile{{RelativePath: "src/a.tsx", Contents: "one\ntwo\nthree"}}); err != nil {
		t.Fatal(err)
	}
	result, err := ws.WriteFiles([]GeneratedFile{{RelativePath: "src/a.tsx", Contents: "one\nTWO\nthree"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.LinesAdded != 1 || result.Stats.LinesRemoved != 1 {
		t.Errorf("stats = +%d -%d, want +1 -1", result.Stats.LinesAdded, result.Stats.LinesRemoved)
	}

	// Unchanged rewrite counts nothing.
	result, err = ws.WriteFiles([]GeneratedFile{{RelativePath: "src/a.tsx", Contents: "one\nTWO\nthree"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.FilesChanged != 0 {
		t.Errorf("unchanged rewrite counted as change: %+v", result.Stats)
	}
}

func TestWriteFiles_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	ws := New(dir, nil)

	if _, err := ws.WriteFiles([]GeneratedFile{{RelativePath: "src/a.tsx", Contents: "x"}}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "src"))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != "a.tsx" {
			t.Errorf("unexpected leftover %q", entry.Name())
		}
	}
}

func TestListSourceFiles(t *testing.T) {
	ws := New(t.TempDir(), nil)

	paths, err := ws.ListSourceFiles()
	if err != nil {
		t.Fatalf("ListSourceFiles on empty workspace: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no files, got %v", paths)
	}

	if _, err := ws.WriteFiles([]GeneratedFile{
		{RelativePath: "src/app/page.tsx", Contents: "a"},
		{RelativePath: "src/lib/util.ts", Contents: "b"},
	}); err != nil {
		t.Fatal(err)
	}

	paths, err = ws.ListSourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Errorf("ListSourceFiles = %v, want 2 entries", paths)
	}
}
