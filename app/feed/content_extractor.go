package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/posts"
)

// ArticleSummary is what the import keeps from an article page.
type ArticleSummary struct {
	Excerpt  string
	ImageURL string
}

type ContentExtractor struct{}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// Run reads the article at pageURL and returns its lead image and a plain
// text excerpt. Relative image URLs are resolved against pageURL.
func (e *ContentExtractor) Run(data []byte, pageURL string) (ArticleSummary, error) {
	if len(data) == 0 {
		return ArticleSummary{}, fmt.Errorf("HTML data is empty")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return ArticleSummary{}, fmt.Errorf("failed to extract content: %w", err)
	}

	summary := ArticleSummary{
		Excerpt:  posts.SanitizeExcerpt(cmp.Or(article.Excerpt, article.TextContent)),
		ImageURL: resolveImage(base, article.Image),
	}
	if summary.Excerpt == "" && summary.ImageURL == "" {
		return ArticleSummary{}, fmt.Errorf("no excerpt or image extracted from %s", pageURL)
	}

	slog.Debug("Content extracted successfully",
		"url", pageURL,
		"title", article.Title,
		"excerpt_length", len(summary.Excerpt),
		"image", summary.ImageURL)

	return summary, nil
}

func resolveImage(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return ""
	}
	return ref.String()
}
