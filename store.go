package hub

import "context"

// CredentialStore persists users, authorization states, linked provider
// accounts, identity mappings and link challenges. Pop and consume methods
// are atomic per key: concurrent callers observe a value at most once and
// the loser gets ErrNotFound.
type CredentialStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	// CreateUser inserts the user if missing and returns the stored record.
	CreateUser(ctx context.Context, user *User) (*User, error)
	// SetMessagingHandle fails with ErrAlreadyLinked when another user owns
	// the handle and with ErrNotFound when the user does not exist.
	SetMessagingHandle(ctx context.Context, userID, handle, username string) error
	ClearMessagingHandle(ctx context.Context, userID string) error

	SaveAuthorizationState(ctx context.Context, state *AuthorizationState) error
	PopAuthorizationState(ctx context.Context, state string) (*AuthorizationState, error)
	SaveOIDCState(ctx context.Context, state *OIDCState) error
	PopOIDCState(ctx context.Context, state string) (*OIDCState, error)

	GetLinkedAccount(ctx context.Context, userID, provider string) (*LinkedAccount, error)
	UpsertLinkedAccount(ctx context.Context, account *LinkedAccount) error

	GetIdentityMapping(ctx context.Context, provider, subject string) (*IdentityMapping, error)
	UpsertIdentityMapping(ctx context.Context, mapping *IdentityMapping) error

	// ReplaceChallenge drops every unconsumed challenge owned by the same
	// user and inserts the new one.
	ReplaceChallenge(ctx context.Context, challenge *LinkChallenge) error
	GetChallenge(ctx context.Context, nonce string) (*LinkChallenge, error)
	// ConsumeChallenge deletes the challenge and returns the deleted row.
	ConsumeChallenge(ctx context.Context, nonce string) (*LinkChallenge, error)
	DeleteChallenge(ctx context.Context, nonce string) error
	// IncrementChallengeAttempts returns the attempt counter after the increment.
	IncrementChallengeAttempts(ctx context.Context, nonce string) (int, error)
}

// JobQueue is a FIFO of automation jobs
type JobQueue interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	// ClaimNext returns nil when no job is queued. A job is claimed at most once.
	ClaimNext(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID, result string) error
	Get(ctx context.Context, jobID string) (*Job, error)
}

// PostStore keeps content saved for publishing
type PostStore interface {
	Create(ctx context.Context, post *Post) (*Post, error)
	Get(ctx context.Context, postID string) (*Post, error)
	// Latest returns ErrNotFound when the user has no posts.
	Latest(ctx context.Context, userID string) (*Post, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*Post, error)
}
