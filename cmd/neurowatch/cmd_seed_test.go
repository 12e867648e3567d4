package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	tmpDir := t.TempDir()
	manifestFile := filepath.Join(tmpDir, "corpus.yaml")
	content := `sources:
  - path: books/stroke_guide.txt
  - path: books/tbi_reference.txt
    name: tbi_handbook
`
	if err := os.WriteFile(manifestFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	manifest, baseDir, err := loadManifest(manifestFile)
	if err != nil {
		t.Fatalf("loadManifest() returned error: %v", err)
	}

	if baseDir != tmpDir {
		t.Errorf("baseDir = %q, want %q", baseDir, tmpDir)
	}
	if len(manifest.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(manifest.Sources))
	}
	if manifest.Sources[0].Path != "books/stroke_guide.txt" {
		t.Errorf("Sources[0].Path = %q", manifest.Sources[0].Path)
	}
	if manifest.Sources[0].Name != "" {
		t.Errorf("Sources[0].Name should be empty, got %q", manifest.Sources[0].Name)
	}
	if manifest.Sources[1].Name != "tbi_handbook" {
		t.Errorf("Sources[1].Name = %q, want tbi_handbook", manifest.Sources[1].Name)
	}
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, _, err := loadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("Expected error for missing manifest")
	}
}

func TestLoadManifest_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	manifestFile := filepath.Join(tmpDir, "corpus.yaml")
	if err := os.WriteFile(manifestFile, []byte("sources: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := loadManifest(manifestFile)
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadManifest_NoSources(t *testing.T) {
	tmpDir := t.TempDir()
	manifestFile := filepath.Join(tmpDir, "corpus.yaml")
	if err := os.WriteFile(manifestFile, []byte("sources: []\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := loadManifest(manifestFile)
	if err == nil {
		t.Error("Expected error for empty sources")
	}
	if err != nil && !strings.Contains(err.Error(), "no sources") {
		t.Errorf("Error should mention 'no sources': %v", err)
	}
}

func TestLoadManifest_SourceWithoutPath(t *testing.T) {
	tmpDir := t.TempDir()
	manifestFile := filepath.Join(tmpDir, "corpus.yaml")
	content := `sources:
  - name: orphan
`
	if err := os.WriteFile(manifestFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := loadManifest(manifestFile)
	if err == nil {
		t.Error("Expected error for source without path")
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "trims lines",
			input: "  hello  \n  world  ",
			want:  "hello\nworld",
		},
		{
			name:  "drops blank lines",
			input: "first\n\n\n\nsecond",
			want:  "first\nsecond",
		},
		{
			name:  "whitespace only lines dropped",
			input: "a\n   \t \nb",
			want:  "a\nb",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "single line unchanged",
			input: "no changes needed",
			want:  "no changes needed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanText(tt.input)
			if got != tt.want {
				t.Errorf("cleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitIntoPassages(t *testing.T) {
	sentence := "Watch for sudden weakness or numbness on one side of the body. "
	content := strings.Repeat(sentence, 40) // ~2500 chars, forces multiple chunks

	passages, err := splitIntoPassages(content)
	if err != nil {
		t.Fatalf("splitIntoPassages() returned error: %v", err)
	}

	if len(passages) < 2 {
		t.Fatalf("Expected multiple passages, got %d", len(passages))
	}
	for i, p := range passages {
		if len(strings.TrimSpace(p)) <= minChunkChars {
			t.Errorf("Passage %d too short: %d chars", i, len(p))
		}
		if len(p) > chunkSize {
			t.Errorf("Passage %d exceeds chunk size: %d chars", i, len(p))
		}
	}
}

func TestSplitIntoPassages_TooShort(t *testing.T) {
	passages, err := splitIntoPassages("brief note")
	if err != nil {
		t.Fatalf("splitIntoPassages() returned error: %v", err)
	}
	if len(passages) != 0 {
		t.Errorf("Expected no passages for short content, got %d", len(passages))
	}
}

func TestSplitIntoPassages_DropsShortFragments(t *testing.T) {
	// A paragraph followed by a trailing fragment shorter than the floor
	content := strings.Repeat("Recovery after a stroke requires consistent monitoring of symptoms. ", 8) +
		"\n\nEnd."

	passages, err := splitIntoPassages(content)
	if err != nil {
		t.Fatalf("splitIntoPassages() returned error: %v", err)
	}
	for i, p := range passages {
		if len(strings.TrimSpace(p)) <= minChunkChars {
			t.Errorf("Passage %d should have been filtered: %q", i, p)
		}
	}
}

func TestSourceNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"books/stroke_guide.txt", "stroke_guide"},
		{"/abs/path/report.txt", "report"},
		{"plain", "plain"},
		{"archive.tar.gz", "archive.tar"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := sourceNameFromPath(tt.path)
			if got != tt.want {
				t.Errorf("sourceNameFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
