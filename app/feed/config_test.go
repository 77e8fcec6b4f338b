package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
url: https://kissplugins.com/feed
settings:
  timeout: 5
  require_image: true
  extract_content: true
filters:
  - field: title
    excludes: ["sponsored"]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.URL != "https://kissplugins.com/feed" {
		t.Errorf("Expected URL, got %s", cfg.URL)
	}
	if cfg.Settings.Timeout != 5 {
		t.Errorf("Expected timeout 5, got %d", cfg.Settings.Timeout)
	}
	if !cfg.Settings.RequireImage || !cfg.Settings.ExtractContent {
		t.Errorf("Expected require_image and extract_content set, got %+v", cfg.Settings)
	}
	if cfg.Settings.MaxItems != DefaultMaxItems {
		t.Errorf("Expected default max items %d, got %d", DefaultMaxItems, cfg.Settings.MaxItems)
	}
	if len(cfg.Filters) != 1 || cfg.Filters[0].Excludes[0] != "sponsored" {
		t.Errorf("Unexpected filters: %+v", cfg.Filters)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing url", "settings:\n  timeout: 5\n", "feed URL is required"},
		{"negative timeout", "url: https://x.test\nsettings:\n  timeout: -1\n", "timeout must be non-negative"},
		{"bad field", "url: https://x.test\nfilters:\n  - field: colour\n    includes: [red]\n", "invalid filter field"},
		{"raw feed field", "url: https://x.test\nfilters:\n  - field: content\n    includes: [red]\n", "invalid filter field"},
		{"empty rule", "url: https://x.test\nfilters:\n  - field: title\n", "at least one include or exclude"},
		{"bad yaml", "url: [", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
