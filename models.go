package hub

import (
	"time"

	"github.com/uptrace/bun"
)

// Flow tags an authorization state with the callback branch it belongs to
type Flow = string

const (
	// FlowLogin resolves or provisions a user from the provider subject
	FlowLogin Flow = "login"
	// FlowLink attaches provider tokens to an already known user
	FlowLink Flow = "link"
)

// Job status values
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
)

// User is a registered hub user
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                string    `bun:"id,pk" json:"user_id"`
	MessagingID       string    `bun:"messaging_id,nullzero,unique" json:"messaging_id,omitempty"`
	MessagingUsername string    `bun:"messaging_username,nullzero" json:"messaging_username,omitempty"`
	CreatedAt         time.Time `bun:"created_at,notnull" json:"created_at"`
}

// AuthorizationState is a single use CSRF token issued with an
// authorization redirect.
type AuthorizationState struct {
	bun.BaseModel `bun:"table:oauth_states,alias:ost"`
	State         string    `bun:"state,pk" json:"state"`
	UserID        string    `bun:"user_id" json:"user_id,omitempty"`
	HintTrusted   bool      `bun:"hint_trusted" json:"hint_trusted,omitempty"`
	Provider      string    `bun:"provider,notnull" json:"provider"`
	Flow          Flow      `bun:"flow,notnull" json:"flow"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OIDCState binds an authorization state to the nonce expected in the
// returned identity token.
type OIDCState struct {
	bun.BaseModel `bun:"table:oidc_states,alias:ois"`
	State         string    `bun:"state,pk" json:"state"`
	Nonce         string    `bun:"nonce,notnull" json:"nonce"`
	Provider      string    `bun:"provider,notnull" json:"provider"`
	UserID        string    `bun:"user_id" json:"user_id,omitempty"`
	HintTrusted   bool      `bun:"hint_trusted" json:"hint_trusted,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// LinkedAccount holds provider client credentials and the current token
// pair for one user and provider family.
type LinkedAccount struct {
	bun.BaseModel  `bun:"table:linked_accounts,alias:lac"`
	UserID         string    `bun:"user_id,pk" json:"user_id"`
	Provider       string    `bun:"provider,pk" json:"provider"`
	ClientID       string    `bun:"client_id" json:"client_id"`
	ClientSecret   string    `bun:"client_secret" json:"-"`
	RedirectURI    string    `bun:"redirect_uri" json:"redirect_uri"`
	AccessToken    string    `bun:"access_token" json:"-"`
	RefreshToken   string    `bun:"refresh_token" json:"-"`
	TokenExpiresAt time.Time `bun:"token_expires_at" json:"token_expires_at"`
	UpdatedAt      time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Linked reports whether the account completed an authorization exchange.
func (a *LinkedAccount) Linked() bool {
	return a != nil && a.AccessToken != ""
}

// Expired reports whether the stored token must be refreshed before use.
func (a *LinkedAccount) Expired(now time.Time) bool {
	return !now.Before(a.TokenExpiresAt)
}

// IdentityMapping maps a provider subject to a hub user
type IdentityMapping struct {
	bun.BaseModel `bun:"table:identity_mappings,alias:idm"`
	Provider      string    `bun:"provider,pk" json:"provider"`
	Subject       string    `bun:"subject,pk" json:"subject"`
	UserID        string    `bun:"user_id,notnull" json:"user_id"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// LinkChallenge is a pending out of band verification for a messaging handle
type LinkChallenge struct {
	bun.BaseModel `bun:"table:link_challenges,alias:lch"`
	Nonce         string     `bun:"nonce,pk" json:"nonce"`
	UserID        string     `bun:"user_id,notnull" json:"user_id"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Attempts      int        `bun:"attempts,notnull" json:"attempts"`
	ConsumedAt    *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
}

// Job is a queued unit of work for external automation
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:job"`
	ID            string         `bun:"id,pk" json:"job_id"`
	UserID        string         `bun:"user_id,notnull" json:"user_id"`
	Payload       map[string]any `bun:"payload,type:jsonb" json:"payload"`
	Status        string         `bun:"status,notnull" json:"status"`
	Result        string         `bun:"result" json:"result,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}

// Post is saved content waiting to be published
type Post struct {
	bun.BaseModel `bun:"table:posts,alias:pst"`
	ID            string    `bun:"id,pk" json:"post_id"`
	UserID        string    `bun:"user_id,notnull" json:"user_id"`
	Title         string    `bun:"title,notnull" json:"title"`
	Content       string    `bun:"content,notnull" json:"content"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
