package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
	"github.com/jaggannadhan/VibeForge/services/workspace"
)

var (
	filesBlockRe = regexp.MustCompile(`(?s)<files>(.*?)</files>`)
	fileEntryRe  = regexp.MustCompile(`(?s)<file\s+path="([^"]+)"\s*>(.*?)</file>`)
	patchBlockRe = regexp.MustCompile(`(?s)<patch>(.*?)</patch>`)
	fenceRe      = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\n(.*?)\\n?```\\s*$")
)

// ParseResponse extracts the change set from a raw code-gen response.
//
// The response is expected to contain one <files> block wrapping
// <file path="…">…</file> children, or alternatively one <patch> block
// wrapping a unified diff. Code fences inside entries are stripped. Paths
// that are absolute or contain ".." are rejected; relative paths not under
// src/ are prefixed with src/. A response yielding zero valid entries is
// ErrNoFiles.
func ParseResponse(raw string) (*CodeGenResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}

	if m := patchBlockRe.FindStringSubmatch(raw); m != nil {
		patch := stripFence(strings.TrimSpace(m[1]))
		if patch == "" {
			return nil, ErrNoFiles
		}
		return &CodeGenResult{Patch: patch}, nil
	}

	body := raw
	if m := filesBlockRe.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}

	var files []workspace.GeneratedFile
	var rejected []string
	for _, entry := range fileEntryRe.FindAllStringSubmatch(body, -1) {
		path := strings.TrimSpace(entry[1])
		contents := stripFence(strings.Trim(entry[2], "\n"))

		if err := validation.ValidateRelativePath(path); err != nil {
			rejected = append(rejected, path)
			continue
		}
		files = append(files, workspace.GeneratedFile{
			RelativePath: normalizeUnderSrc(path),
			Contents:     contents,
		})
	}

	if len(files) == 0 {
		if len(rejected) > 0 {
			return nil, fmt.Errorf("%w (rejected paths: %s)", ErrNoFiles, strings.Join(rejected, ", "))
		}
		return nil, ErrNoFiles
	}
	return &CodeGenResult{Files: files}, nil
}

// normalizeUnderSrc prefixes a path with src/ unless it is already there or
// is a workspace-root config file the dev server reads in place.
func normalizeUnderSrc(path string) string {
	clean := strings.TrimPrefix(filepathToSlash(path), "./")
	if strings.HasPrefix(clean, "src/") {
		return clean
	}
	if !strings.Contains(clean, "/") && isRootConfigFile(clean) {
		return clean
	}
	return "src/" + clean
}

func isRootConfigFile(name string) bool {
	switch name {
	case "package.json", "tsconfig.json", "next.config.js", "next.config.mjs", "tailwind.config.ts", "tailwind.config.js", "postcss.config.js":
		return true
	}
	return false
}

func filepathToSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// stripFence removes a single wrapping markdown code fence if present.
func stripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
