package api

import (
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/tasks"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/widget"
)

const (
	DefaultPerPage = 8
	MaxPerPage     = 20
	excerptWords   = 15
	dateLayout     = "January 2, 2006"
	cacheControl   = "public, max-age=300"
)

// PostResponse is one element of the /posts payload.
type PostResponse struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Link          string `json:"link"`
	FeaturedImage string `json:"featured_image"`
	Excerpt       string `json:"excerpt"`
	Date          string `json:"date"`
}

type HandlerOptions struct {
	Version      string
	TokenHeader  string
	RequireNonce bool
	Style        widget.Style
}

// ImportScheduler queues an import of every configured feed.
type ImportScheduler interface {
	EnqueueImports() ([]tasks.TaskInterface, error)
}

var _ ImportScheduler = (*tasks.Scheduler)(nil)

type Handler struct {
	postRepo  database.PostRepository
	tokens    *TokenStore
	renderer  *widget.Renderer
	scheduler ImportScheduler // nil when no feeds are configured
	opts      HandlerOptions
}

type postsQuery struct {
	PerPage *int `form:"per_page" binding:"omitempty,min=1,max=20"`
}
