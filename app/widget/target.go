package widget

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Target is the container a controller renders into.
type Target interface {
	SetContents(fragment string)
	PageSize() string
}

var (
	_ Target = (*MemoryTarget)(nil)
	_ Target = (*FileTarget)(nil)
)

// MemoryTarget keeps every fragment it was given, newest last.
type MemoryTarget struct {
	mu       sync.Mutex
	pageSize string
	history  []string
}

func NewMemoryTarget(pageSize string) *MemoryTarget {
	return &MemoryTarget{pageSize: pageSize}
}

func (t *MemoryTarget) SetContents(fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, fragment)
}

func (t *MemoryTarget) PageSize() string {
	return t.pageSize
}

func (t *MemoryTarget) Contents() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return ""
	}
	return t.history[len(t.history)-1]
}

func (t *MemoryTarget) History() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.history...)
}

// FileTarget writes each fragment to a file, replacing it atomically, wrapped
// in the widget container element.
type FileTarget struct {
	path       string
	pageSize   string
	stylesheet string
}

func NewFileTarget(path, pageSize string) *FileTarget {
	return &FileTarget{path: path, pageSize: pageSize}
}

// WithStylesheet writes css in a <style> block ahead of the container.
func (t *FileTarget) WithStylesheet(css string) *FileTarget {
	t.stylesheet = css
	return t
}

func (t *FileTarget) PageSize() string {
	return t.pageSize
}

func (t *FileTarget) SetContents(fragment string) {
	if err := t.write(fragment); err != nil {
		slog.Error("Failed to write widget output", "path", t.path, "error", err)
	}
}

func (t *FileTarget) write(fragment string) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".widget-*.html")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	content := `<div class="kiss-blog-posts-container">` + fragment + "</div>\n"
	if t.stylesheet != "" {
		content = "<style>\n" + t.stylesheet + "</style>\n" + content
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting output mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("replacing output: %w", err)
	}
	return nil
}
