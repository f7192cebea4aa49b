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
	"testing"
)

const modifyPatch = `--- a/src/app/page.tsx
+++ b/src/app/page.tsx
@@ -1,3 +1,3 @@
 line one
-line two
+line TWO
 line three
`

const newFilePatch = `--- /dev/null
+++ b/src/components/cta.tsx
@@ -0,0 +1,2 @@
+export function CTA() {
+}
`

func TestParsePatchAndStats(t *testing.T) {
	fileDiffs, err := ParsePatch(modifyPatch)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	stats := PatchStats(fileDiffs)
	if stats.FilesChanged != 1 || stats.LinesAdded != 1 || stats.LinesRemoved != 1 {
		t.Errorf("stats = %+v, want 1 file +1 -1", stats)
	}
}

func TestParsePatch_Garbage(t *testing.T) {
	if _, err := ParsePatch("not a diff at all"); !errors.Is(err, ErrPatchParse) {
		t.Errorf("error = %v, want ErrPatchParse", err)
	}
}

func TestApplyPatch_Modify(t *testing.T) {
	ws := New(t.TempDir(), nil)
	if _, err := ws.WriteFiles([]GeneratedFile{{RelativePath: "src/app/page.tsx", Contents: "line one\nline two\nline three\n"}}); err != nil {
		t.Fatal(err)
	}

	fileDiffs, err := ParsePatch(modifyPatch)
	if err != nil {
		t.Fatal(err)
	}
	result, err := ws.ApplyPatch(fileDiffs)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if len(result.WrittenPaths) != 1 {
		t.Fatalf("wrote %d paths, want 1", len(result.WrittenPaths))
	}

	got, err := ws.ReadFile("src/app/page.tsx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "line one\nline TWO\nline three\n" {
		t.Errorf("patched contents = %q", got)
	}
}

func TestApplyPatch_NewFile(t *testing.T) {
	ws := New(t.TempDir(), nil)

	fileDiffs, err := ParsePatch(newFilePatch)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.ApplyPatch(fileDiffs); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	got, err := ws.ReadFile("src/components/cta.tsx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "export function CTA() {\n}" {
		t.Errorf("new file contents = %q", got)
	}
}

func TestApplyPatch_RejectsTraversal(t *testing.T) {
	ws := New(t.TempDir(), nil)

	evil := `--- a/../../etc/motd
+++ b/../../etc/motd
@@ -0,0 +1,1 @@
+pwned
`
	fileDiffs, err := ParsePatch(evil)
	if err != nil {
		t.Skipf("parser rejected traversal diff outright: %v", err)
	}
	if _, err := ws.ApplyPatch(fileDiffs); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("error = %v, want ErrUnsafePath", err)
	}
}

func TestCheckBudget(t *testing.T) {
	budget := Budget{MaxFilesChanged: 2, MaxLinesChanged: 80}

	if err := CheckBudget(ChangeStats{FilesChanged: 2, LinesAdded: 40, LinesRemoved: 40}, budget); err != nil {
		t.Errorf("at-budget change should pass: %v", err)
	}
	if err := CheckBudget(ChangeStats{FilesChanged: 3}, budget); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("files over budget: error = %v", err)
	}
	if err := CheckBudget(ChangeStats{FilesChanged: 1, LinesAdded: 81}, budget); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("lines over budget: error = %v", err)
	}
	if err := CheckBudget(ChangeStats{FilesChanged: 100, LinesAdded: 1000}, Budget{}); err != nil {
		t.Errorf("zero budget means unlimited: %v", err)
	}
}
