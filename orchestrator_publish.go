package hub

import (
	"context"

	"github.com/goliatone/go-auth-hub/social"
)

// PublishRequest selects the content a user publishes. Without PostID the
// most recent post is used. Title overrides the stored title when set.
type PublishRequest struct {
	UserID   string
	Provider string
	PostID   string
	Title    string
}

// Publish sends a saved post through the provider, refreshing the stored
// token first when it is expired.
func (o *Orchestrator) Publish(ctx context.Context, req PublishRequest) (map[string]any, error) {
	ex, err := o.exchanger(req.Provider)
	if err != nil {
		return nil, err
	}

	publisher, ok := ex.(social.Publisher)
	if !ok {
		return nil, withMetadata(ErrInvalidRequest, map[string]any{
			"provider": req.Provider,
			"fields":   "provider does not support publishing",
		})
	}

	if _, err := o.RequireUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	account, err := o.loadAccount(ctx, req.UserID, req.Provider)
	if err != nil {
		return nil, err
	}
	if !account.Linked() {
		return nil, withMetadata(ErrNotLinked, map[string]any{"provider": req.Provider})
	}

	post, err := o.selectPost(ctx, req)
	if err != nil {
		return nil, err
	}

	title := post.Title
	if req.Title != "" {
		title = req.Title
	}

	creds, err := o.credentialsFor(account, req.Provider)
	if err != nil {
		return nil, err
	}

	if account.Expired(o.now()) {
		if account, err = o.refresh(ctx, ex, creds, account); err != nil {
			return nil, err
		}
	}

	pctx, cancel := o.providerContext(ctx)
	defer cancel()

	result, err := publisher.Publish(pctx, creds, account.AccessToken, title, post.Content)
	if err != nil {
		return nil, upstreamError(req.Provider, "publish", err)
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPostPublished,
		UserID:    req.UserID,
		Provider:  req.Provider,
		Metadata:  map[string]any{"post_id": post.ID},
	})

	return result, nil
}

func (o *Orchestrator) selectPost(ctx context.Context, req PublishRequest) (*Post, error) {
	if o.posts == nil {
		return nil, ErrNoContent
	}

	var (
		post *Post
		err  error
	)

	if req.PostID != "" {
		post, err = o.posts.Get(ctx, req.PostID)
		if err != nil {
			return nil, err
		}
		if post.UserID != req.UserID {
			return nil, withMetadata(ErrForbidden, map[string]any{"post_id": req.PostID})
		}
	} else {
		post, err = o.posts.Latest(ctx, req.UserID)
		if err != nil {
			if HasTextCode(err, TextCodeNotFound) {
				return nil, ErrNoContent
			}
			return nil, err
		}
	}

	if post.Content == "" {
		return nil, withMetadata(ErrNoContent, map[string]any{"post_id": post.ID})
	}
	return post, nil
}

// refresh rotates the stored token pair. A rejected refresh leaves the
// stored account untouched.
func (o *Orchestrator) refresh(ctx context.Context, ex social.Exchanger, creds social.Credentials, account *LinkedAccount) (*LinkedAccount, error) {
	if account.RefreshToken == "" {
		return nil, withMetadata(ErrRefreshFailed, map[string]any{"provider": account.Provider})
	}

	pctx, cancel := o.providerContext(ctx)
	defer cancel()

	token, err := ex.Refresh(pctx, creds, account.RefreshToken)
	if err != nil {
		return nil, upstreamError(account.Provider, "refresh", err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, withMetadata(ErrRefreshFailed, map[string]any{"provider": account.Provider})
	}

	refreshed := *account
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	refreshed.TokenExpiresAt = token.ExpiresAt

	if err := o.store.UpsertLinkedAccount(ctx, &refreshed); err != nil {
		return nil, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		UserID:    account.UserID,
		Provider:  account.Provider,
	})

	return &refreshed, nil
}
