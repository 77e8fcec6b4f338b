package api

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/client"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/widget"
)

func NewHandler(postRepo database.PostRepository, tokens *TokenStore, scheduler ImportScheduler, opts HandlerOptions) *Handler {
	if opts.TokenHeader == "" {
		opts.TokenHeader = client.DefaultAuthHeader
	}
	if tokens == nil {
		tokens = NewTokenStore(DefaultTokenTTL)
	}
	return &Handler{
		postRepo:  postRepo,
		tokens:    tokens,
		renderer:  widget.NewRenderer(),
		scheduler: scheduler,
		opts:      opts,
	}
}

func (h *Handler) GetPosts(c *gin.Context) {
	var query postsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "rest_invalid_param",
			"message": "Invalid parameter(s): per_page",
		})
		return
	}

	perPage := DefaultPerPage
	if query.PerPage != nil {
		perPage = *query.PerPage
	}

	records, err := h.postRepo.ListPublished(c.Request.Context(), perPage)
	if err != nil {
		slog.Error("Database error", "operation", "list_posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	payload := make([]PostResponse, 0, len(records))
	for _, record := range records {
		payload = append(payload, PostResponse{
			ID:            record.ID,
			Title:         record.Title,
			Link:          record.Link,
			FeaturedImage: record.FeaturedImage,
			Excerpt:       trimWords(record.Excerpt, excerptWords),
			Date:          record.PublishedAt.In(time.Local).Format(dateLayout),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Encoding error", "operation", "list_posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Encoding error"})
		return
	}

	etag := bodyETag(body)
	c.Header("Cache-Control", cacheControl)
	c.Header("ETag", etag)
	c.Header("X-WP-Total", strconv.Itoa(len(payload)))

	latest, err := h.postRepo.LatestUpdate(c.Request.Context())
	if err != nil {
		slog.Warn("Failed to read latest update", "error", err)
	}
	if latest != nil {
		c.Header("Last-Modified", latest.UTC().Format(http.TimeFormat))
	}

	if notModified(c.Request, etag, latest) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// ProbeToken mints a fresh request token and returns it in the token header.
func (h *Handler) ProbeToken(c *gin.Context) {
	token, expiry := h.tokens.Mint()
	c.Header(h.opts.TokenHeader, token)
	c.Header("Cache-Control", "no-store")

	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiry.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetStyle(c *gin.Context) {
	c.Header("Cache-Control", cacheControl)
	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(h.renderer.Stylesheet(h.opts.Style)))
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.opts.Version,
	}

	if postCount, err := h.postRepo.GetPostCount(c.Request.Context()); err == nil {
		health["posts"] = postCount
	}

	health["active_tokens"] = h.tokens.Count()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIImportFeeds(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No feeds configured"})
		return
	}

	queued, err := h.scheduler.EnqueueImports()
	if err != nil {
		slog.Error("Error enqueueing import tasks", "error", err)
	}
	if len(queued) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue import tasks",
			"details": errorString(err),
		})
		return
	}

	taskList := make([]gin.H, 0, len(queued))
	for _, task := range queued {
		taskList = append(taskList, gin.H{
			"id":   task.GetID(),
			"type": task.GetType(),
			"feed": task.GetFeedURL(),
		})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Import tasks enqueued",
		"tasks":   taskList,
	})
}

// nonceMiddleware rejects requests whose token header is missing or unknown.
func nonceMiddleware(tokens *TokenStore, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Valid(strings.TrimSpace(c.GetHeader(header))) {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    "rest_cookie_invalid_nonce",
				"message": "Cookie check failed",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// trimWords keeps the first n words and marks the cut with &hellip;.
func trimWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "&hellip;"
}

func bodyETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func notModified(r *http.Request, etag string, lastModified *time.Time) bool {
	if match := r.Header.Get("If-None-Match"); match != "" {
		for _, candidate := range strings.Split(match, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == etag || candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
				return true
			}
		}
		return false
	}

	if since := r.Header.Get("If-Modified-Since"); since != "" && lastModified != nil {
		t, err := http.ParseTime(since)
		if err == nil && !lastModified.Truncate(time.Second).After(t) {
			return true
		}
	}

	return false
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
