package widget

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryTarget(t *testing.T) {
	target := NewMemoryTarget("5")

	if target.Contents() != "" {
		t.Error("Expected empty contents before first render")
	}

	target.SetContents("one")
	target.SetContents("two")

	if target.PageSize() != "5" {
		t.Errorf("Expected page size '5', got %q", target.PageSize())
	}
	if target.Contents() != "two" {
		t.Errorf("Expected latest contents 'two', got %q", target.Contents())
	}
	if history := target.History(); len(history) != 2 || history[0] != "one" {
		t.Errorf("Unexpected history %v", history)
	}
}

func TestFileTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "widget.html")
	target := NewFileTarget(path, "8")

	target.SetContents(`<div class="kiss-blog-posts-loading">Loading posts...</div>`)
	target.SetContents(`<div class="kiss-blog-posts-empty">No posts found.</div>`)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, `<div class="kiss-blog-posts-container">`) {
		t.Errorf("Expected container wrapper, got %s", content)
	}
	if !strings.Contains(content, "No posts found.") || strings.Contains(content, "Loading") {
		t.Errorf("Expected output replaced by latest render, got %s", content)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestFileTargetStylesheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.html")
	css := NewRenderer().Stylesheet(DefaultStyle())

	NewFileTarget(path, "8").WithStylesheet(css).SetContents(`<div class="kiss-blog-posts-empty">No posts found.</div>`)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "<style>\n"+css+"</style>\n") {
		t.Errorf("Expected stylesheet ahead of the container, got %s", content)
	}
	if !strings.Contains(content, `<div class="kiss-blog-posts-container"><div class="kiss-blog-posts-empty">`) {
		t.Errorf("Expected container after the stylesheet, got %s", content)
	}
}
