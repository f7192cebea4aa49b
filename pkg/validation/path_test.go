package validation

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "proj1", false},
		{"single char", "a", false},
		{"uuid-ish", "9f2c1c2e-1b7d-4a1e-9f2c", false},
		{"underscores", "run_42", false},
		{"max length", strings.Repeat("a", 64), false},

		// Invalid identifiers
		{"empty", "", true},
		{"leading hyphen", "-proj", true},
		{"slash", "a/b", true},
		{"dotdot", "..", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 65), true},
		{"newline", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple", "src/app/page.tsx", false},
		{"single file", "package.json", false},
		{"deep", "src/components/ui/button.tsx", false},

		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../secrets", true},
		{"embedded traversal", "src/../../etc/passwd", true},
		{"nul byte", "src/a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelativePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelativePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestWithinRoot(t *testing.T) {
	root := t.TempDir()

	abs, err := WithinRoot(root, "src/page.tsx")
	if err != nil {
		t.Fatalf("WithinRoot returned error: %v", err)
	}
	want := filepath.Join(root, "src", "page.tsx")
	if abs != want {
		t.Errorf("WithinRoot = %q, want %q", abs, want)
	}

	if _, err := WithinRoot(root, "../outside"); err == nil {
		t.Error("expected error for traversal path")
	}
	if _, err := WithinRoot(root, "/absolute"); err == nil {
		t.Error("expected error for absolute path")
	}
}
