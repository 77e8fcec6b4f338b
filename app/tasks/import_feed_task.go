package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/feed"
)

const maxFeedSize = 10 << 20

type ImportFeedTask struct {
	Task
	FeedConfig       *feed.Config
	httpClient       *http.Client
	parser           *feed.Parser
	filterer         *feed.Filterer
	contentExtractor *feed.ContentExtractor
	postRepo         database.PostRepository
	userAgent        string

	// Result holds the counts of the last successful Execute.
	Result feed.ImportResult
}

func NewImportFeedTask(feedConfig *feed.Config, httpClient *http.Client, parser *feed.Parser, filterer *feed.Filterer, contentExtractor *feed.ContentExtractor, postRepo database.PostRepository, userAgent string) *ImportFeedTask {
	return &ImportFeedTask{
		Task:             NewTask(TaskTypeImportFeed, feedConfig.URL),
		FeedConfig:       feedConfig,
		httpClient:       httpClient,
		parser:           parser,
		filterer:         filterer,
		contentExtractor: contentExtractor,
		postRepo:         postRepo,
		userAgent:        userAgent,
	}
}

func (t *ImportFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := t.fetch(ctx, t.FeedConfig.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, items, err := t.parser.Run(data)
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	if maxItems := t.FeedConfig.Settings.MaxItems; maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	if t.FeedConfig.Settings.ExtractContent && t.contentExtractor != nil {
		items = t.extractContent(ctx, items)
	}

	items = t.filterer.Run(items, feed.RulesFor(t.FeedConfig))

	result, err := t.storeItems(ctx, items)
	if err != nil {
		return fmt.Errorf("failed to store items: %w", err)
	}
	t.Result = result

	slog.Info("Task completed",
		"type", "ImportFeed",
		"feed", t.FeedURL,
		"title", metadata.Title,
		"duration", t.GetDuration(),
		"total", result.Total,
		"created", result.Created,
		"updated", result.Updated,
		"filtered", result.Filtered,
		"skipped", result.Skipped)

	return nil
}

func (t *ImportFeedTask) fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := time.Duration(t.FeedConfig.Settings.Timeout) * time.Second
	if timeout <= 0 {
		timeout = feed.DefaultTimeout * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	userAgent := t.userAgent
	if t.FeedConfig.Settings.UserAgent != "" {
		userAgent = t.FeedConfig.Settings.UserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// extractContent fills a missing image or excerpt from the article page.
// Failures leave the item as parsed.
func (t *ImportFeedTask) extractContent(ctx context.Context, items []feed.Item) []feed.Item {
	result := make([]feed.Item, len(items))
	copy(result, items)

	successCount := 0
	errorCount := 0

	for i := range result {
		item := &result[i]
		if item.Link == "" || (item.ImageURL != "" && item.Excerpt != "") {
			continue
		}

		select {
		case <-ctx.Done():
			return result
		default:
		}

		data, err := t.fetch(ctx, item.Link)
		if err == nil {
			var summary feed.ArticleSummary
			summary, err = t.contentExtractor.Run(data, item.Link)
			if err == nil {
				if item.ImageURL == "" {
					item.ImageURL = summary.ImageURL
				}
				if item.Excerpt == "" {
					item.Excerpt = summary.Excerpt
				}
			}
		}

		if err != nil {
			slog.Warn("Failed to extract content for item", "feed", t.FeedURL, "url", item.Link, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	if successCount > 0 || errorCount > 0 {
		slog.Info("Content extraction completed", "feed", t.FeedURL, "success", successCount, "errors", errorCount)
	}

	return result
}

func (t *ImportFeedTask) storeItems(ctx context.Context, items []feed.Item) (feed.ImportResult, error) {
	result := feed.ImportResult{Total: len(items)}

	for _, item := range items {
		if item.Link == "" {
			result.Skipped++
			slog.Debug("Item without link, skipping", "feed", t.FeedURL, "guid", item.GUID)
			continue
		}

		post := database.Post{
			Link:          item.Link,
			Title:         item.Title,
			Excerpt:       item.Excerpt,
			Content:       item.Content,
			FeaturedImage: item.ImageURL,
			Status:        database.StatusPublish,
			PublishedAt:   item.PublishedAt,
		}
		if item.IsFiltered {
			post.Status = database.StatusDraft
			result.Filtered++
			slog.Debug("Item filtered, storing as draft", "feed", t.FeedURL, "link", item.Link, "reason", item.FilterReason)
		}

		_, created, err := t.postRepo.UpsertPost(ctx, post)
		if err != nil {
			return result, fmt.Errorf("failed to upsert post %s: %w", item.Link, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	return result, nil
}
