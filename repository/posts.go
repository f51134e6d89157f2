package repository

import (
	"context"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultListLimit = 20

// PostStore implements hub.PostStore using Bun.
type PostStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ hub.PostStore = (*PostStore)(nil)

// NewPostStore creates a new store.
func NewPostStore(db *bun.DB, opts ...Option) *PostStore {
	o := applyOptions(opts)
	return &PostStore{db: db, now: o.now}
}

// Create implements hub.PostStore.
func (s *PostStore) Create(ctx context.Context, post *hub.Post) (*hub.Post, error) {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now()
	}
	post.CreatedAt = post.CreatedAt.UTC()

	if _, err := s.db.NewInsert().Model(post).Exec(ctx); err != nil {
		return nil, internal(err, "failed to create post")
	}
	return post, nil
}

// Get implements hub.PostStore.
func (s *PostStore) Get(ctx context.Context, postID string) (*hub.Post, error) {
	post := &hub.Post{}
	err := s.db.NewSelect().
		Model(post).
		Where("id = ?", postID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"post_id": postID})
		}
		return nil, internal(err, "failed to load post")
	}
	return post, nil
}

// Latest implements hub.PostStore.
func (s *PostStore) Latest(ctx context.Context, userID string) (*hub.Post, error) {
	posts, err := s.ListRecent(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, notFound(nil, map[string]any{"user_id": userID})
	}
	return posts[0], nil
}

// ListRecent implements hub.PostStore, newest first.
func (s *PostStore) ListRecent(ctx context.Context, userID string, limit int) ([]*hub.Post, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	posts := make([]*hub.Post, 0)
	err := s.db.NewSelect().
		Model(&posts).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, rowid DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, internal(err, "failed to list posts")
	}
	return posts, nil
}
