package hub_test

import (
	"context"
	"testing"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVerifier(t *testing.T) (*hub.LinkVerifier, *testStores, *testClock) {
	t.Helper()
	clock := newTestClock()
	stores := setupStores(t, clock)

	_, err := stores.credentials.CreateUser(context.Background(), &hub.User{ID: "alice"})
	require.NoError(t, err)

	verifier := hub.NewLinkVerifier(stores.credentials,
		hub.WithVerifierClock(clock.Now),
		hub.WithVerifierLogger(nopLogger{}),
	)
	return verifier, stores, clock
}

func TestLinkVerifierConsumeOnce(t *testing.T) {
	verifier, _, _ := setupVerifier(t)
	ctx := context.Background()

	challenge, err := verifier.Create(ctx, "alice", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.Nonce)
	assert.Equal(t, hub.DefaultChallengeTTL, challenge.ExpiresAt.Sub(challenge.CreatedAt))

	status, userID, err := verifier.Consume(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeOK, status)
	assert.Equal(t, "alice", userID)

	status, userID, err = verifier.Consume(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, status)
	assert.Empty(t, userID)
}

func TestLinkVerifierCreateReplacesPrevious(t *testing.T) {
	verifier, _, _ := setupVerifier(t)
	ctx := context.Background()

	first, err := verifier.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)
	second, err := verifier.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.Nonce, second.Nonce)

	status, _, err := verifier.Consume(ctx, first.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, status)

	status, userID, err := verifier.Consume(ctx, second.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeOK, status)
	assert.Equal(t, "alice", userID)
}

func TestLinkVerifierExpiry(t *testing.T) {
	verifier, stores, clock := setupVerifier(t)
	ctx := context.Background()

	challenge, err := verifier.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	status, _, err := verifier.Consume(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeOK, status, "a challenge is valid up to its expiry instant")

	challenge, err = verifier.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	status, _, err = verifier.Consume(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeExpired, status)

	_, err = stores.credentials.GetChallenge(ctx, challenge.Nonce)
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestLinkVerifierRecordFailureExpired(t *testing.T) {
	verifier, _, clock := setupVerifier(t)
	ctx := context.Background()

	challenge, err := verifier.Create(ctx, "alice", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	status, err := verifier.RecordFailure(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeExpired, status)

	status, err = verifier.RecordFailure(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, status)
}

func TestLinkVerifierAttemptBudget(t *testing.T) {
	verifier, _, _ := setupVerifier(t)
	ctx := context.Background()

	challenge, err := verifier.Create(ctx, "alice", 0)
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		status, err := verifier.RecordFailure(ctx, challenge.Nonce, 5)
		require.NoError(t, err)
		assert.Equal(t, hub.ChallengeFailed, status, "attempt %d", i)
	}

	status, err := verifier.RecordFailure(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeMaxAttempts, status)

	consumed, userID, err := verifier.Consume(ctx, challenge.Nonce, 5)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, consumed)
	assert.Empty(t, userID)
}

func TestLinkVerifierConsumeRespectsLowerBudget(t *testing.T) {
	verifier, _, _ := setupVerifier(t)
	ctx := context.Background()

	challenge, err := verifier.Create(ctx, "alice", 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		status, err := verifier.RecordFailure(ctx, challenge.Nonce, 5)
		require.NoError(t, err)
		assert.Equal(t, hub.ChallengeFailed, status)
	}

	status, _, err := verifier.Consume(ctx, challenge.Nonce, 2)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeMaxAttempts, status)
}

func TestLinkVerifierUnknownNonce(t *testing.T) {
	verifier, _, _ := setupVerifier(t)
	ctx := context.Background()

	status, _, err := verifier.Consume(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, status)

	status, err = verifier.RecordFailure(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, hub.ChallengeInvalid, status)

	_, err = verifier.Create(ctx, "", 0)
	requireTextCode(t, err, hub.TextCodeInvalidRequest)
}
