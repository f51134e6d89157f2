package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCredentialStore(t *testing.T) (*CredentialStore, *testClock) {
	t.Helper()
	clock := newClock()
	return NewCredentialStore(setupDB(t), WithClock(clock.Now)), clock
}

func TestCredentialStoreCreateUserIsIdempotent(t *testing.T) {
	store, clock := setupCredentialStore(t)
	ctx := context.Background()

	first, err := store.CreateUser(ctx, &hub.User{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", first.ID)
	assert.True(t, clock.Now().Equal(first.CreatedAt))

	clock.Advance(time.Hour)
	second, err := store.CreateUser(ctx, &hub.User{ID: "alice"})
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	_, err = store.GetUser(ctx, "nobody")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStorePopAuthorizationStateOnce(t *testing.T) {
	store, _ := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationState(ctx, &hub.AuthorizationState{
		State:    "state-1",
		UserID:   "alice",
		Provider: "naver",
		Flow:     hub.FlowLink,
	}))

	state, err := store.PopAuthorizationState(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", state.UserID)
	assert.Equal(t, hub.FlowLink, state.Flow)
	assert.Equal(t, "naver", state.Provider)

	_, err = store.PopAuthorizationState(ctx, "state-1")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStorePopOnPooledDB(t *testing.T) {
	store := NewCredentialStore(setupPooledDB(t))
	ctx := context.Background()

	require.NoError(t, store.SaveOIDCState(ctx, &hub.OIDCState{State: "s", Nonce: "n", Provider: "oidc", UserID: "alice"}))

	state, err := store.PopOIDCState(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "n", state.Nonce)
	assert.Equal(t, "alice", state.UserID)

	_, err = store.PopOIDCState(ctx, "s")
	requireTextCode(t, err, hub.TextCodeNotFound)

	_, err = store.PopAuthorizationState(ctx, "never-issued")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStoreConcurrentPopObservesStateOnce(t *testing.T) {
	store, _ := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveOIDCState(ctx, &hub.OIDCState{State: "s", Nonce: "n"}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := store.PopOIDCState(ctx, "s")
			if err == nil {
				assert.Equal(t, "n", state.Nonce)
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.True(t, hub.HasTextCode(err, hub.TextCodeNotFound))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestCredentialStoreMessagingHandleIsUnique(t *testing.T) {
	store, _ := setupCredentialStore(t)
	ctx := context.Background()

	for _, id := range []string{"bob", "carol"} {
		_, err := store.CreateUser(ctx, &hub.User{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, store.SetMessagingHandle(ctx, "bob", "123456789", "bobby"))

	err := store.SetMessagingHandle(ctx, "carol", "123456789", "")
	requireTextCode(t, err, hub.TextCodeAlreadyLinked)

	bob, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "123456789", bob.MessagingID)
	assert.Equal(t, "bobby", bob.MessagingUsername)

	carol, err := store.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, carol.MessagingID)

	// relinking the same handle to its owner is allowed
	require.NoError(t, store.SetMessagingHandle(ctx, "bob", "123456789", "bobby2"))

	err = store.SetMessagingHandle(ctx, "ghost", "42", "")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStoreClearMessagingHandle(t *testing.T) {
	store, _ := setupCredentialStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, &hub.User{ID: "bob"})
	require.NoError(t, err)
	require.NoError(t, store.SetMessagingHandle(ctx, "bob", "77", ""))
	require.NoError(t, store.ClearMessagingHandle(ctx, "bob"))

	bob, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob.MessagingID)

	_, err = store.CreateUser(ctx, &hub.User{ID: "carol"})
	require.NoError(t, err)
	require.NoError(t, store.SetMessagingHandle(ctx, "carol", "77", ""))

	requireTextCode(t, store.ClearMessagingHandle(ctx, "ghost"), hub.TextCodeNotFound)
}

func TestCredentialStoreUpsertLinkedAccount(t *testing.T) {
	store, clock := setupCredentialStore(t)
	ctx := context.Background()

	account := &hub.LinkedAccount{
		UserID:       "alice",
		Provider:     "naver",
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://hub/cb",
	}
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	stored, err := store.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.False(t, stored.Linked())

	expires := clock.Now().Add(time.Hour)
	account.AccessToken = "access"
	account.RefreshToken = "refresh"
	account.TokenExpiresAt = expires
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	stored, err = store.GetLinkedAccount(ctx, "alice", "naver")
	require.NoError(t, err)
	assert.True(t, stored.Linked())
	assert.Equal(t, "refresh", stored.RefreshToken)
	assert.True(t, expires.Equal(stored.TokenExpiresAt))

	count, err := store.db.NewSelect().Model((*hub.LinkedAccount)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetLinkedAccount(ctx, "alice", "oidc")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStoreIdentityMapping(t *testing.T) {
	store, _ := setupCredentialStore(t)
	ctx := context.Background()

	mapping := &hub.IdentityMapping{Provider: "oidc", Subject: "sub-1", UserID: "alice"}
	require.NoError(t, store.UpsertIdentityMapping(ctx, mapping))
	require.NoError(t, store.UpsertIdentityMapping(ctx, &hub.IdentityMapping{Provider: "oidc", Subject: "sub-1", UserID: "alice"}))

	found, err := store.GetIdentityMapping(ctx, "oidc", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.UserID)

	_, err = store.GetIdentityMapping(ctx, "naver", "sub-1")
	requireTextCode(t, err, hub.TextCodeNotFound)
}

func TestCredentialStoreReplaceChallengeKeepsOnePerUser(t *testing.T) {
	store, clock := setupCredentialStore(t)
	ctx := context.Background()

	for _, nonce := range []string{"n1", "n2", "n3"} {
		require.NoError(t, store.ReplaceChallenge(ctx, &hub.LinkChallenge{
			Nonce:     nonce,
			UserID:    "bob",
			ExpiresAt: clock.Now().Add(5 * time.Minute),
		}))
	}
	require.NoError(t, store.ReplaceChallenge(ctx, &hub.LinkChallenge{
		Nonce:     "other",
		UserID:    "carol",
		ExpiresAt: clock.Now().Add(5 * time.Minute),
	}))

	count, err := store.db.NewSelect().Model((*hub.LinkChallenge)(nil)).Where("user_id = ?", "bob").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetChallenge(ctx, "n1")
	requireTextCode(t, err, hub.TextCodeNotFound)

	live, err := store.GetChallenge(ctx, "n3")
	require.NoError(t, err)
	assert.Equal(t, "bob", live.UserID)

	_, err = store.GetChallenge(ctx, "other")
	require.NoError(t, err)
}

func TestCredentialStoreChallengeAttemptsAndConsume(t *testing.T) {
	store, clock := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceChallenge(ctx, &hub.LinkChallenge{
		Nonce:     "n1",
		UserID:    "bob",
		ExpiresAt: clock.Now().Add(5 * time.Minute),
	}))

	attempts, err := store.IncrementChallengeAttempts(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = store.IncrementChallengeAttempts(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	consumed, err := store.ConsumeChallenge(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "bob", consumed.UserID)
	assert.Equal(t, 2, consumed.Attempts)

	_, err = store.ConsumeChallenge(ctx, "n1")
	requireTextCode(t, err, hub.TextCodeNotFound)

	_, err = store.IncrementChallengeAttempts(ctx, "n1")
	requireTextCode(t, err, hub.TextCodeNotFound)

	require.NoError(t, store.DeleteChallenge(ctx, "missing"))
}
