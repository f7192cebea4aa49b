package provider

import (
	"errors"
	"testing"
)

func TestParseResponse_FilesBlock(t *testing.T) {
	raw := `Here is the implementation.
<files>
<file path="src/app/page.tsx">
export default function Page() {}
</file>
<file path="components/hero.tsx">
export function Hero() {}
</file>
</files>`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if result.Patch != "" {
		t.Error("expected file result, got patch")
	}
	if len(result.Files) != 2 {
		t.Fatalf("parsed %d files, want 2", len(result.Files))
	}
	if result.Files[0].RelativePath != "src/app/page.tsx" {
		t.Errorf("path[0] = %q", result.Files[0].RelativePath)
	}
	if result.Files[1].RelativePath != "src/components/hero.tsx" {
		t.Errorf("path[1] = %q, want src/ prefix added", result.Files[1].RelativePath)
	}
	if result.Files[0].Contents != "export default function Page() {}" {
		t.Errorf("contents[0] = %q", result.Files[0].Contents)
	}
}

func TestParseResponse_StripsCodeFences(t *testing.T) {
	raw := "<files><file path=\"src/a.tsx\">```tsx\nconst a = 1\n```</file></files>"
	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Files[0].Contents != "const a = 1" {
		t.Errorf("contents = %q, fence not stripped", result.Files[0].Contents)
	}
}

func TestParseResponse_RejectsBadPaths(t *testing.T) {
	raw := `<files>
<file path="../evil.sh">rm -rf /</file>
<file path="/etc/cron.d/x">boom</file>
</files>`
	_, err := ParseResponse(raw)
	if !errors.Is(err, ErrNoFiles) {
		t.Errorf("error = %v, want ErrNoFiles", err)
	}
}

func TestParseResponse_MixedValidity(t *testing.T) {
	raw := `<files>
<file path="../evil.sh">bad</file>
<file path="src/ok.tsx">good</file>
</files>`
	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("one valid file should parse: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].RelativePath != "src/ok.tsx" {
		t.Errorf("files = %+v", result.Files)
	}
}

func TestParseResponse_RootConfigStaysAtRoot(t *testing.T) {
	raw := `<files><file path="package.json">{}</file></files>`
	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Files[0].RelativePath != "package.json" {
		t.Errorf("package.json moved to %q", result.Files[0].RelativePath)
	}
}

func TestParseResponse_PatchBlock(t *testing.T) {
	raw := "<patch>\n--- a/src/a.tsx\n+++ b/src/a.tsx\n@@ -1,1 +1,1 @@\n-old\n+new\n</patch>"
	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Patch == "" || len(result.Files) != 0 {
		t.Errorf("expected patch result, got %+v", result)
	}
}

func TestParseResponse_Empty(t *testing.T) {
	if _, err := ParseResponse("   "); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
	if _, err := ParseResponse("no blocks here"); !errors.Is(err, ErrNoFiles) {
		t.Errorf("error = %v, want ErrNoFiles", err)
	}
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Scores
	}{
		{
			"clean json",
			`{"layout": 0.8, "style": 0.7, "a11y": 0.9, "perceptual": 0.6}`,
			Scores{Layout: 0.8, Style: 0.7, A11y: 0.9, Perceptual: 0.6},
		},
		{
			"json in prose",
			`Sure! Here is the result: {"layout": 1, "style": 0, "a11y": 0.5, "perceptual": 0.5} Hope that helps.`,
			Scores{Layout: 1, Style: 0, A11y: 0.5, Perceptual: 0.5},
		},
		{
			"fenced json",
			"```json\n{\"layout\": 0.2, \"style\": 0.2, \"a11y\": 0.2, \"perceptual\": 0.2}\n```",
			Scores{Layout: 0.2, Style: 0.2, A11y: 0.2, Perceptual: 0.2},
		},
		{
			"out of range clamped",
			`{"layout": 1.5, "style": -0.2, "a11y": 0.5, "perceptual": 0.5}`,
			Scores{Layout: 1, Style: 0, A11y: 0.5, Perceptual: 0.5},
		},
		{"not json", "I cannot score this.", FallbackScores()},
		{"missing dimension", `{"layout": 0.8, "style": 0.7}`, FallbackScores()},
		{"broken json", `{"layout": 0.8,`, FallbackScores()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScores(tt.raw); got != tt.want {
				t.Errorf("ParseScores() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
