package detector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnoreSetMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"no patterns", nil, "anything.txt", false},
		{"name glob", []string{"*.tmp"}, "file.tmp", true},
		{"name glob misses", []string{"*.tmp"}, "file.txt", false},
		{"name matches any segment", []string{"node_modules"}, "web/node_modules/left-pad/index.js", true},
		{"exact name", []string{".DS_Store"}, "photos/.DS_Store", true},
		{"anchored pattern", []string{"build/*"}, "build/out.bin", true},
		{"anchored covers deeper paths", []string{"build/*"}, "build/obj/main.o", true},
		{"anchored only matches at root", []string{"build/*"}, "src/build/out.bin", false},
		{"trailing slash names a directory", []string{"cache/"}, "cache/page.html", true},
		{"negation re-includes", []string{"*.log", "!keep.log"}, "keep.log", false},
		{"negation leaves others excluded", []string{"*.log", "!keep.log"}, "app.log", true},
		{"later rule wins", []string{"!app.log", "*.log"}, "app.log", true},
		{"blank and comment lines skipped", []string{"", "# comment", "*.log"}, "app.log", true},
		{"malformed glob dropped", []string{"[", "*.log"}, "app.log", true},
		{"ignore file itself always excluded", nil, IgnoreFileName, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewIgnoreSet(tt.patterns)
			if got := s.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadIgnoreFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file yields nothing", func(t *testing.T) {
		t.Parallel()
		lines, err := LoadIgnoreFile(t.TempDir())
		if err != nil {
			t.Fatalf("LoadIgnoreFile() error = %v", err)
		}
		if lines != nil {
			t.Errorf("LoadIgnoreFile() = %v, want nil", lines)
		}
	})

	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		content := "# local excludes\n*.swp\n\n!keep.swp\n"
		if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(content), 0644); err != nil {
			t.Fatalf("writing ignore file: %v", err)
		}

		lines, err := LoadIgnoreFile(root)
		if err != nil {
			t.Fatalf("LoadIgnoreFile() error = %v", err)
		}
		if len(lines) != 4 {
			t.Fatalf("LoadIgnoreFile() returned %d lines, want 4", len(lines))
		}

		s := NewIgnoreSet(lines)
		if !s.Match("notes.swp") {
			t.Error("pattern from ignore file not applied")
		}
		if s.Match("keep.swp") {
			t.Error("negation from ignore file not applied")
		}
	})
}
