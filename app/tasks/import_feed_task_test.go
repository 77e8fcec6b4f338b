package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/feed"
)

const feedFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>KISS Plugins</title>
    <link>https://kissplugins.com</link>
    <item>
      <title>Release 2.0</title>
      <link>https://kissplugins.com/release-2</link>
      <description>Big release</description>
      <pubDate>Mon, 04 Aug 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Sponsored: hosting deal</title>
      <link>https://kissplugins.com/deal</link>
      <description>Buy now</description>
      <pubDate>Tue, 05 Aug 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Missing link</title>
      <description>Orphan</description>
    </item>
  </channel>
</rss>`

func openRepo(t *testing.T) *database.SQLitePostRepository {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "posts.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewPostRepository(db)
}

func feedServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var calls atomic.Int32
	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		userAgent.Store(r.Header.Get("User-Agent"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedFixture))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &userAgent
}

func newImportTask(url string, repo database.PostRepository, filters []feed.ConfigFilter) *ImportFeedTask {
	cfg := &feed.Config{URL: url, Filters: filters}
	feed.ApplyDefaults(cfg)
	return NewImportFeedTask(cfg, http.DefaultClient, feed.NewParser(), feed.NewFilterer(), feed.NewContentExtractor(), repo, "KISS Test/1.0")
}

func TestImportFeedTask(t *testing.T) {
	ctx := context.Background()
	srv, _, userAgent := feedServer(t, http.StatusOK)
	repo := openRepo(t)

	task := newImportTask(srv.URL, repo, []feed.ConfigFilter{{Field: "title", Excludes: []string{"sponsored"}}})
	task.Start()
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := feed.ImportResult{Total: 3, Created: 2, Filtered: 1, Skipped: 1}
	if task.Result != want {
		t.Errorf("Expected %+v, got %+v", want, task.Result)
	}
	if got := userAgent.Load(); got != "KISS Test/1.0" {
		t.Errorf("Expected user agent, got %v", got)
	}

	posts, err := repo.ListPublished(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 || posts[0].Title != "Release 2.0" {
		t.Fatalf("Expected only the unfiltered post published, got %+v", posts)
	}
	if posts[0].Excerpt != "Big release" {
		t.Errorf("Expected excerpt, got %q", posts[0].Excerpt)
	}
}

func TestImportFeedTaskUpdatesOnSecondRun(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := feedServer(t, http.StatusOK)
	repo := openRepo(t)

	if err := newImportTask(srv.URL, repo, nil).Execute(ctx); err != nil {
		t.Fatalf("first import: %v", err)
	}

	second := newImportTask(srv.URL, repo, nil)
	if err := second.Execute(ctx); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Result.Created != 0 || second.Result.Updated != 2 {
		t.Errorf("Expected 2 updates, got %+v", second.Result)
	}

	count, _ := repo.GetPostCount(ctx)
	if count != 2 {
		t.Errorf("Expected 2 posts, got %d", count)
	}
}

func TestImportFeedTaskMaxItems(t *testing.T) {
	srv, _, _ := feedServer(t, http.StatusOK)
	repo := openRepo(t)

	task := newImportTask(srv.URL, repo, nil)
	task.FeedConfig.Settings.MaxItems = 1
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("import: %v", err)
	}
	if task.Result.Total != 1 || task.Result.Created != 1 {
		t.Errorf("Expected a single item imported, got %+v", task.Result)
	}
}

func TestImportFeedTaskHTTPError(t *testing.T) {
	srv, _, _ := feedServer(t, http.StatusBadGateway)

	err := newImportTask(srv.URL, openRepo(t), nil).Execute(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Expected HTTP 502 error, got %v", err)
	}
}

func TestImportFeedTaskCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newImportTask("http://127.0.0.1:1", openRepo(t), nil).Execute(ctx)
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTaskRetryAccounting(t *testing.T) {
	task := NewTask(TaskTypeImportFeed, "https://example.com/feed")
	if task.ID == "" {
		t.Error("Expected task ID")
	}
	for i := 0; i < DefaultMaxRetries; i++ {
		if !task.CanRetry() {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
		task.IncrementRetryCount()
	}
	if task.CanRetry() {
		t.Error("Expected retries exhausted")
	}

	delays := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for count, want := range delays {
		if got := RetryDelay(count); got != want {
			t.Errorf("RetryDelay(%d): expected %v, got %v", count, want, got)
		}
	}
	if got := RetryDelay(10); got != 30*time.Second {
		t.Errorf("Expected delay capped at 30s, got %v", got)
	}
}

const leadArticle = `<!DOCTYPE html>
<html>
<head>
	<title>Text only post</title>
	<meta name="description" content="A lead paragraph pulled from the article page.">
	<meta property="og:image" content="/uploads/lead.png">
</head>
<body>
	<article>
		<h1>Text only post</h1>
		<p>The feed entry for this post carries no description and no image, so the importer reads the article page to find both. This paragraph is long enough to count as article content.</p>
		<p>A second paragraph keeps the page looking like a real article, with enough text for the extractor to settle on this element as the main body of the page.</p>
	</article>
</body>
</html>`

type articleSite struct {
	srv   *httptest.Server
	mu    sync.Mutex
	pages map[string]int
}

func (s *articleSite) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[path]
}

func newArticleSite(t *testing.T) *articleSite {
	t.Helper()
	site := &articleSite{pages: map[string]int{}}
	site.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.pages[r.URL.Path]++
		site.mu.Unlock()

		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>KISS Plugins</title>
    <item>
      <title>Pictured post</title>
      <link>%[1]s/articles/pictured</link>
      <description>Has everything</description>
      <enclosure url="%[1]s/uploads/pictured.png" type="image/png" length="1"/>
    </item>
    <item>
      <title>Text only post</title>
      <link>%[1]s/articles/text-only</link>
    </item>
    <item>
      <title>Gone post</title>
      <link>%[1]s/articles/gone</link>
    </item>
  </channel>
</rss>`, site.srv.URL)
		case "/articles/text-only":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(leadArticle))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.srv.Close)
	return site
}

func TestImportFeedTaskExtractsMissingContent(t *testing.T) {
	ctx := context.Background()
	site := newArticleSite(t)
	repo := openRepo(t)

	task := newImportTask(site.srv.URL+"/feed", repo, nil)
	task.FeedConfig.Settings.ExtractContent = true
	task.FeedConfig.Settings.RequireImage = true
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := feed.ImportResult{Total: 3, Created: 3, Filtered: 1}
	if task.Result != want {
		t.Errorf("Expected %+v, got %+v", want, task.Result)
	}

	if got := site.hits("/articles/pictured"); got != 0 {
		t.Errorf("Expected no article fetch for a complete item, got %d", got)
	}
	if got := site.hits("/articles/text-only"); got != 1 {
		t.Errorf("Expected one article fetch for the text only item, got %d", got)
	}

	published, err := repo.ListPublished(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("Expected 2 published posts, got %+v", published)
	}

	var textOnly *database.Post
	for i := range published {
		if published[i].Title == "Text only post" {
			textOnly = &published[i]
		}
		if published[i].Title == "Gone post" {
			t.Error("Expected the post without an image to stay a draft")
		}
	}
	if textOnly == nil {
		t.Fatal("Expected the text only post to be published")
	}
	if textOnly.FeaturedImage != site.srv.URL+"/uploads/lead.png" {
		t.Errorf("Expected extracted image, got %q", textOnly.FeaturedImage)
	}
	if textOnly.Excerpt == "" || strings.ContainsAny(textOnly.Excerpt, "<>") {
		t.Errorf("Expected plain extracted excerpt, got %q", textOnly.Excerpt)
	}
}

func TestImportFeedTaskExtractionDisabled(t *testing.T) {
	site := newArticleSite(t)

	task := newImportTask(site.srv.URL+"/feed", openRepo(t), nil)
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := site.hits("/articles/text-only"); got != 0 {
		t.Errorf("Expected no article fetch without extract_content, got %d", got)
	}
	if task.Result.Filtered != 0 {
		t.Errorf("Expected nothing filtered without rules, got %+v", task.Result)
	}
}
