package database

import (
	"time"
)

const (
	StatusPublish = "publish"
	StatusDraft   = "draft"
)

type Post struct {
	ID            int64
	Link          string
	Title         string
	Excerpt       string
	Content       string
	FeaturedImage string
	Status        string // publish or draft
	PublishedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
