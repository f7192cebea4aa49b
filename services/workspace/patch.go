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
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
)

// Budget bounds one iteration's change set. Zero values mean unlimited.
type Budget struct {
	MaxFilesChanged int
	MaxLinesChanged int
}

// ParsePatch parses a unified multi-file diff.
func ParsePatch(patch string) ([]*diff.FileDiff, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchParse, err)
	}
	// Text without file headers reads as no named file diffs and no error.
	named := 0
	for _, fd := range fileDiffs {
		if fd.OrigName != "" || fd.NewName != "" {
			named++
		}
	}
	if named == 0 {
		return nil, fmt.Errorf("%w: no file diffs found", ErrPatchParse)
	}
	return fileDiffs, nil
}

// PatchStats calculates change statistics from parsed file diffs.
func PatchStats(fileDiffs []*diff.FileDiff) ChangeStats {
	stats := ChangeStats{FilesChanged: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.LinesAdded++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.LinesRemoved++
				}
			}
		}
	}
	return stats
}

// CheckBudget verifies a change set fits the plan's budget.
func CheckBudget(stats ChangeStats, budget Budget) error {
	if budget.MaxFilesChanged > 0 && stats.FilesChanged > budget.MaxFilesChanged {
		return fmt.Errorf("%w: %d files changed (max %d)", ErrBudgetExceeded, stats.FilesChanged, budget.MaxFilesChanged)
	}
	if budget.MaxLinesChanged > 0 && stats.TotalLines() > budget.MaxLinesChanged {
		return fmt.Errorf("%w: %d lines changed (max %d)", ErrBudgetExceeded, stats.TotalLines(), budget.MaxLinesChanged)
	}
	return nil
}

// ApplyPatch applies a parsed multi-file diff to the workspace.
//
// # Description
//
// For each file diff, reads the original contents (empty for new files),
// applies the hunks, and writes the result atomically. Diff paths are
// stripped of the conventional a/ and b/ prefixes and validated like any
// other external path. A diff whose new name is /dev/null deletes nothing;
// file deletion is a structure change the engine does not let patches make.
//
// # Outputs
//
//   - *WriteResult: Written paths and stats from PatchStats.
//   - error: ErrUnsafePath, ErrPatchApply, or the first I/O failure.
func (w *Workspace) ApplyPatch(fileDiffs []*diff.FileDiff) (*WriteResult, error) {
	if len(fileDiffs) == 0 {
		return nil, ErrNoFiles
	}

	result := &WriteResult{Stats: PatchStats(fileDiffs)}
	for _, fd := range fileDiffs {
		rel := stripDiffPrefix(fd.NewName)
		if rel == "/dev/null" || rel == "" {
			continue
		}
		if err := validation.ValidateRelativePath(rel); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}

		original, _ := w.ReadFile(rel)
		patched, err := applyFileDiff([]byte(original), fd)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrPatchApply, rel, err)
		}

		if _, err := w.WriteFiles([]GeneratedFile{{RelativePath: rel, Contents: string(patched)}}); err != nil {
			return nil, err
		}
		result.WrittenPaths = append(result.WrittenPaths, rel)
	}

	w.logger.Debug("patch applied",
		slog.Int("files", len(result.WrittenPaths)),
		slog.Int("lines_added", result.Stats.LinesAdded),
		slog.Int("lines_removed", result.Stats.LinesRemoved),
	)
	return result, nil
}

// applyFileDiff applies one file's hunks to the original content.
func applyFileDiff(original []byte, fd *diff.FileDiff) ([]byte, error) {
	if fd.OrigName == "/dev/null" || len(original) == 0 {
		// New file - the content is the added lines of the hunks.
		var lines []string
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					lines = append(lines, strings.TrimPrefix(line, "+"))
				}
			}
		}
		return []byte(strings.Join(lines, "\n")), nil
	}

	origLines := strings.Split(string(original), "\n")
	newLines := make([]string, 0, len(origLines))

	origIdx := 0
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunkStart < origIdx || hunkStart > len(origLines) {
			return nil, fmt.Errorf("hunk start %d out of range", hunk.OrigStartLine)
		}
		for origIdx < hunkStart {
			newLines = append(newLines, origLines[origIdx])
			origIdx++
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				newLines = append(newLines, strings.TrimPrefix(line, "+"))
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				origIdx++
			case strings.HasPrefix(line, " ") || line == "":
				if origIdx < len(origLines) {
					newLines = append(newLines, origLines[origIdx])
					origIdx++
				}
			}
		}
	}

	for origIdx < len(origLines) {
		newLines = append(newLines, origLines[origIdx])
		origIdx++
	}

	return []byte(strings.Join(newLines, "\n")), nil
}

// stripDiffPrefix removes the conventional a/ or b/ diff path prefix.
func stripDiffPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
