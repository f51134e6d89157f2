package hub

import (
	"context"
	"time"

	"github.com/goliatone/go-auth-hub/social"
)

const (
	// DefaultChallengeTTL bounds how long a link challenge nonce stays valid
	DefaultChallengeTTL = 300 * time.Second
	// DefaultMaxAttempts is the number of failed completions before a
	// challenge is dropped
	DefaultMaxAttempts = 5
)

// ChallengeStatus is the outcome of a challenge consume or failure record.
type ChallengeStatus string

const (
	ChallengeOK          ChallengeStatus = "ok"
	ChallengeInvalid     ChallengeStatus = "invalid"
	ChallengeExpired     ChallengeStatus = "expired"
	ChallengeMaxAttempts ChallengeStatus = "max_attempts"
	ChallengeFailed      ChallengeStatus = "failed"
)

// LinkVerifierOption customizes verifier construction.
type LinkVerifierOption func(*LinkVerifier)

// WithVerifierClock injects a custom clock (useful for tests).
func WithVerifierClock(clock Clock) LinkVerifierOption {
	return func(v *LinkVerifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithVerifierTTL overrides the default challenge lifetime.
func WithVerifierTTL(ttl time.Duration) LinkVerifierOption {
	return func(v *LinkVerifier) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithVerifierMaxAttempts overrides the default failure budget.
func WithVerifierMaxAttempts(max int) LinkVerifierOption {
	return func(v *LinkVerifier) {
		if max > 0 {
			v.maxAttempts = max
		}
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger Logger) LinkVerifierOption {
	return func(v *LinkVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// LinkVerifier issues and checks single use nonces proving that a
// messaging handle belongs to the user who requested the link.
type LinkVerifier struct {
	store       CredentialStore
	ttl         time.Duration
	maxAttempts int
	now         Clock
	logger      Logger
}

// NewLinkVerifier returns a verifier backed by the credential store.
func NewLinkVerifier(store CredentialStore, opts ...LinkVerifierOption) *LinkVerifier {
	v := &LinkVerifier{
		store:       store,
		ttl:         DefaultChallengeTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// TTL returns the default challenge lifetime
func (v *LinkVerifier) TTL() time.Duration {
	return v.ttl
}

// Create replaces any outstanding challenge of the user with a fresh one.
// A zero ttl uses the verifier default.
func (v *LinkVerifier) Create(ctx context.Context, userID string, ttl time.Duration) (*LinkChallenge, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	if ttl <= 0 {
		ttl = v.ttl
	}

	nonce, err := social.NewNonce()
	if err != nil {
		return nil, withMetadata(ErrInternal, map[string]any{"cause": err.Error()})
	}

	now := v.now().UTC()
	challenge := &LinkChallenge{
		Nonce:     nonce,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := v.store.ReplaceChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	v.logger.Debug("link challenge created for user %s", userID)
	return challenge, nil
}

// Consume checks the challenge and removes it. Only ChallengeOK carries
// the owning user id. Expired or exhausted challenges are deleted.
func (v *LinkVerifier) Consume(ctx context.Context, nonce string, maxAttempts int) (ChallengeStatus, string, error) {
	maxAttempts = v.attemptBudget(maxAttempts)

	challenge, status, err := v.load(ctx, nonce)
	if err != nil || status != "" {
		return status, "", err
	}

	if challenge.Attempts >= maxAttempts {
		return v.drop(ctx, nonce, ChallengeMaxAttempts)
	}

	consumed, err := v.store.ConsumeChallenge(ctx, nonce)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return ChallengeInvalid, "", nil
		}
		return "", "", err
	}

	return ChallengeOK, consumed.UserID, nil
}

// RecordFailure counts a failed completion. The attempt that reaches the
// budget deletes the challenge and reports ChallengeMaxAttempts.
func (v *LinkVerifier) RecordFailure(ctx context.Context, nonce string, maxAttempts int) (ChallengeStatus, error) {
	maxAttempts = v.attemptBudget(maxAttempts)

	_, status, err := v.load(ctx, nonce)
	if err != nil || status != "" {
		return status, err
	}

	attempts, err := v.store.IncrementChallengeAttempts(ctx, nonce)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return ChallengeInvalid, nil
		}
		return "", err
	}

	if attempts >= maxAttempts {
		status, _, err := v.drop(ctx, nonce, ChallengeMaxAttempts)
		return status, err
	}

	return ChallengeFailed, nil
}

// load returns a non empty status when the challenge cannot be used.
func (v *LinkVerifier) load(ctx context.Context, nonce string) (*LinkChallenge, ChallengeStatus, error) {
	if nonce == "" {
		return nil, ChallengeInvalid, nil
	}

	challenge, err := v.store.GetChallenge(ctx, nonce)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return nil, ChallengeInvalid, nil
		}
		return nil, "", err
	}

	if challenge.ConsumedAt != nil {
		return nil, ChallengeInvalid, nil
	}

	if v.now().After(challenge.ExpiresAt) {
		status, _, err := v.drop(ctx, nonce, ChallengeExpired)
		return nil, status, err
	}

	return challenge, "", nil
}

func (v *LinkVerifier) drop(ctx context.Context, nonce string, status ChallengeStatus) (ChallengeStatus, string, error) {
	if err := v.store.DeleteChallenge(ctx, nonce); err != nil && !HasTextCode(err, TextCodeNotFound) {
		return "", "", err
	}
	return status, "", nil
}

func (v *LinkVerifier) attemptBudget(max int) int {
	if max <= 0 {
		return v.maxAttempts
	}
	return max
}
