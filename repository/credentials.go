package repository

import (
	"context"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/uptrace/bun"
)

// CredentialStore implements hub.CredentialStore using Bun.
type CredentialStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ hub.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a new store. With a pooled sqlite handle,
// concurrent writers need a busy timeout or they fail with SQLITE_BUSY.
func NewCredentialStore(db *bun.DB, opts ...Option) *CredentialStore {
	o := applyOptions(opts)
	return &CredentialStore{db: db, now: o.now}
}

// GetUser implements hub.CredentialStore.
func (s *CredentialStore) GetUser(ctx context.Context, userID string) (*hub.User, error) {
	user := &hub.User{}
	err := s.db.NewSelect().
		Model(user).
		Where("id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"user_id": userID})
		}
		return nil, internal(err, "failed to load user")
	}
	return user, nil
}

// CreateUser implements hub.CredentialStore. Existing users are returned unchanged.
func (s *CredentialStore) CreateUser(ctx context.Context, user *hub.User) (*hub.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, internal(err, "failed to create user")
	}

	return s.GetUser(ctx, user.ID)
}

// SetMessagingHandle implements hub.CredentialStore.
func (s *CredentialStore) SetMessagingHandle(ctx context.Context, userID, handle, username string) error {
	return runInTx(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*hub.User)(nil)).
			Where("id = ?", userID).
			Exists(ctx)
		if err != nil {
			return internal(err, "failed to load user")
		}
		if !exists {
			return notFound(nil, map[string]any{"user_id": userID})
		}

		taken, err := tx.NewSelect().
			Model((*hub.User)(nil)).
			Where("messaging_id = ? AND id <> ?", handle, userID).
			Exists(ctx)
		if err != nil {
			return internal(err, "failed to check messaging handle")
		}
		if taken {
			return alreadyLinked(handle)
		}

		_, err = tx.NewUpdate().
			Model((*hub.User)(nil)).
			Set("messaging_id = ?", handle).
			Set("messaging_username = ?", nullString(username)).
			Where("id = ?", userID).
			Exec(ctx)
		if isUniqueViolation(err) {
			return alreadyLinked(handle)
		}
		return internal(err, "failed to set messaging handle")
	})
}

// ClearMessagingHandle implements hub.CredentialStore.
func (s *CredentialStore) ClearMessagingHandle(ctx context.Context, userID string) error {
	res, err := s.db.NewUpdate().
		Model((*hub.User)(nil)).
		Set("messaging_id = NULL").
		Set("messaging_username = NULL").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return internal(err, "failed to clear messaging handle")
	}
	if ok, err := expectOneRow(res); err != nil || !ok {
		return notFound(err, map[string]any{"user_id": userID})
	}
	return nil
}

// SaveAuthorizationState implements hub.CredentialStore.
func (s *CredentialStore) SaveAuthorizationState(ctx context.Context, state *hub.AuthorizationState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.now().UTC()
	}
	_, err := s.db.NewInsert().Model(state).Exec(ctx)
	return internal(err, "failed to save authorization state")
}

// PopAuthorizationState implements hub.CredentialStore.
func (s *CredentialStore) PopAuthorizationState(ctx context.Context, value string) (*hub.AuthorizationState, error) {
	state := &hub.AuthorizationState{}
	err := s.pop(ctx, state, "state = ?", value)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveOIDCState implements hub.CredentialStore.
func (s *CredentialStore) SaveOIDCState(ctx context.Context, state *hub.OIDCState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.now().UTC()
	}
	_, err := s.db.NewInsert().Model(state).Exec(ctx)
	return internal(err, "failed to save oidc state")
}

// PopOIDCState implements hub.CredentialStore.
func (s *CredentialStore) PopOIDCState(ctx context.Context, value string) (*hub.OIDCState, error) {
	state := &hub.OIDCState{}
	err := s.pop(ctx, state, "state = ?", value)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// GetLinkedAccount implements hub.CredentialStore.
func (s *CredentialStore) GetLinkedAccount(ctx context.Context, userID, provider string) (*hub.LinkedAccount, error) {
	account := &hub.LinkedAccount{}
	err := s.db.NewSelect().
		Model(account).
		Where("user_id = ? AND provider = ?", userID, provider).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"user_id": userID, "provider": provider})
		}
		return nil, internal(err, "failed to load linked account")
	}
	return account, nil
}

// UpsertLinkedAccount implements hub.CredentialStore.
func (s *CredentialStore) UpsertLinkedAccount(ctx context.Context, account *hub.LinkedAccount) error {
	account.UpdatedAt = s.now().UTC()
	account.TokenExpiresAt = account.TokenExpiresAt.UTC()

	_, err := s.db.NewInsert().
		Model(account).
		On("CONFLICT (user_id, provider) DO UPDATE").
		Set("client_id = EXCLUDED.client_id").
		Set("client_secret = EXCLUDED.client_secret").
		Set("redirect_uri = EXCLUDED.redirect_uri").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return internal(err, "failed to upsert linked account")
}

// GetIdentityMapping implements hub.CredentialStore.
func (s *CredentialStore) GetIdentityMapping(ctx context.Context, provider, subject string) (*hub.IdentityMapping, error) {
	mapping := &hub.IdentityMapping{}
	err := s.db.NewSelect().
		Model(mapping).
		Where("provider = ? AND subject = ?", provider, subject).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"provider": provider})
		}
		return nil, internal(err, "failed to load identity mapping")
	}
	return mapping, nil
}

// UpsertIdentityMapping implements hub.CredentialStore.
func (s *CredentialStore) UpsertIdentityMapping(ctx context.Context, mapping *hub.IdentityMapping) error {
	now := s.now().UTC()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	mapping.UpdatedAt = now

	_, err := s.db.NewInsert().
		Model(mapping).
		On("CONFLICT (provider, subject) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return internal(err, "failed to upsert identity mapping")
}

// ReplaceChallenge implements hub.CredentialStore.
func (s *CredentialStore) ReplaceChallenge(ctx context.Context, challenge *hub.LinkChallenge) error {
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = s.now().UTC()
	}

	return runInTx(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*hub.LinkChallenge)(nil)).
			Where("user_id = ? AND consumed_at IS NULL", challenge.UserID).
			Exec(ctx)
		if err != nil {
			return internal(err, "failed to drop previous challenges")
		}

		_, err = tx.NewInsert().Model(challenge).Exec(ctx)
		return internal(err, "failed to save challenge")
	})
}

// GetChallenge implements hub.CredentialStore.
func (s *CredentialStore) GetChallenge(ctx context.Context, nonce string) (*hub.LinkChallenge, error) {
	challenge := &hub.LinkChallenge{}
	err := s.db.NewSelect().
		Model(challenge).
		Where("nonce = ?", nonce).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"resource": "link_challenge"})
		}
		return nil, internal(err, "failed to load challenge")
	}
	return challenge, nil
}

// ConsumeChallenge implements hub.CredentialStore.
func (s *CredentialStore) ConsumeChallenge(ctx context.Context, nonce string) (*hub.LinkChallenge, error) {
	challenge := &hub.LinkChallenge{}
	if err := s.pop(ctx, challenge, "nonce = ?", nonce); err != nil {
		return nil, err
	}
	return challenge, nil
}

// DeleteChallenge implements hub.CredentialStore.
func (s *CredentialStore) DeleteChallenge(ctx context.Context, nonce string) error {
	_, err := s.db.NewDelete().
		Model((*hub.LinkChallenge)(nil)).
		Where("nonce = ?", nonce).
		Exec(ctx)
	return internal(err, "failed to delete challenge")
}

// IncrementChallengeAttempts implements hub.CredentialStore.
func (s *CredentialStore) IncrementChallengeAttempts(ctx context.Context, nonce string) (int, error) {
	var attempts int
	err := runInTx(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*hub.LinkChallenge)(nil)).
			Set("attempts = attempts + 1").
			Where("nonce = ?", nonce).
			Exec(ctx)
		if err != nil {
			return internal(err, "failed to record attempt")
		}
		if ok, err := expectOneRow(res); err != nil || !ok {
			return notFound(err, map[string]any{"resource": "link_challenge"})
		}

		return tx.NewSelect().
			Model((*hub.LinkChallenge)(nil)).
			Column("attempts").
			Where("nonce = ?", nonce).
			Scan(ctx, &attempts)
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// pop deletes the row matching where and scans it into model in one
// statement. Only the caller whose delete removes the row gets it back;
// everyone else gets ErrNotFound.
func (s *CredentialStore) pop(ctx context.Context, model any, where string, args ...any) error {
	res, err := s.db.NewDelete().
		Model(model).
		Where(where, args...).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isNoRows(err) {
			return notFound(err, nil)
		}
		return internal(err, "failed to pop record")
	}
	if ok, err := expectOneRow(res); err != nil || !ok {
		return notFound(err, nil)
	}
	return nil
}

func alreadyLinked(handle string) error {
	clone := hub.ErrAlreadyLinked.Clone()
	if clone == nil {
		clone = hub.ErrAlreadyLinked
	}
	return clone.WithMetadata(map[string]any{"handle": handle})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
