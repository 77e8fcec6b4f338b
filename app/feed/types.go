package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title           string
	Link            string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Excerpt     string // plain text, from description or content
	ImageURL    string // item image, first image enclosure, or first <img> in content
	PublishedAt time.Time
	UpdatedAt   *time.Time
	Authors     []string
	Categories  []string

	ContentHash  string
	IsFiltered   bool
	FilterReason string
}

// Configuration types

type Config struct {
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	MaxItems       int    `yaml:"max_items"`
	Timeout        int    `yaml:"timeout"` // seconds
	UserAgent      string `yaml:"user_agent"`
	RequireImage   bool   `yaml:"require_image"`   // publish only posts with a featured image
	ExtractContent bool   `yaml:"extract_content"` // fill a missing image or excerpt from the article page
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Total    int
	Created  int
	Updated  int
	Filtered int
	Skipped  int
}
