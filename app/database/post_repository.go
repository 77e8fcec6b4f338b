package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLitePostRepository handles database operations for posts
type SQLitePostRepository struct {
	db  *DB
	now func() time.Time
}

func NewPostRepository(db *DB) *SQLitePostRepository {
	return &SQLitePostRepository{db: db, now: time.Now}
}

// ListPublished returns up to limit published posts, newest first.
func (r *SQLitePostRepository) ListPublished(ctx context.Context, limit int) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, link, title, excerpt, content, featured_image, status,
		       published_at, created_at, updated_at
		FROM posts
		WHERE status = ?
		ORDER BY published_at DESC, id DESC
		LIMIT ?
	`, StatusPublish, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		err := rows.Scan(
			&post.ID, &post.Link, &post.Title, &post.Excerpt, &post.Content,
			&post.FeaturedImage, &post.Status,
			&post.PublishedAt, &post.CreatedAt, &post.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}

	return posts, nil
}

// GetPostCount returns the number of published posts
func (r *SQLitePostRepository) GetPostCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts WHERE status = ?", StatusPublish).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get post count: %w", err)
	}
	return count, nil
}

// LatestUpdate returns the most recent update time across published posts,
// or nil when there are none.
func (r *SQLitePostRepository) LatestUpdate(ctx context.Context) (*time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT updated_at FROM posts
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, StatusPublish).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}
	return &updatedAt, nil
}

func (r *SQLitePostRepository) UpsertPost(ctx context.Context, post Post) (int64, bool, error) {
	if post.Link == "" {
		return 0, false, fmt.Errorf("post link is required")
	}
	if post.Status == "" {
		post.Status = StatusPublish
	}

	now := r.now().UTC()
	if post.PublishedAt.IsZero() {
		post.PublishedAt = now
	}

	var existingID int64
	err := r.db.QueryRowContext(ctx, "SELECT id FROM posts WHERE link = ?", post.Link).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to check existing post: %w", err)
	}
	created := errors.Is(err, sql.ErrNoRows)

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO posts (
			link, title, excerpt, content, featured_image, status,
			published_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link) DO UPDATE SET
			title = excluded.title,
			excerpt = excluded.excerpt,
			content = excluded.content,
			featured_image = excluded.featured_image,
			status = excluded.status,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
		RETURNING id
	`, post.Link, post.Title, post.Excerpt, post.Content, post.FeaturedImage, post.Status,
		post.PublishedAt.UTC(), now, now).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert post: %w", err)
	}

	return id, created, nil
}
