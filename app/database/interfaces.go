package database

import (
	"context"
	"time"
)

var _ PostRepository = (*SQLitePostRepository)(nil)

type PostRepository interface {
	ListPublished(ctx context.Context, limit int) ([]Post, error)
	GetPostCount(ctx context.Context) (int, error)
	LatestUpdate(ctx context.Context) (*time.Time, error)

	// UpsertPost inserts or updates a post keyed by link and reports whether
	// it was newly created.
	UpsertPost(ctx context.Context, post Post) (int64, bool, error)
}
