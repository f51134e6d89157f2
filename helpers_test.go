package hub_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/goliatone/go-auth-hub/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type testConfig struct {
	signingKey      string
	sessionTTL      int
	allowNewUsers   bool
	serviceSecrets  []string
	internalSecrets []string
	publicBaseURL   string
	frontendBaseURL string
	challengeTTL    int
	maxAttempts     int
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:      "test-signing-key",
		sessionTTL:      3600,
		serviceSecrets:  []string{"hub-key"},
		internalSecrets: []string{"svc-token", "internal-key"},
		publicBaseURL:   "http://hub.test",
		challengeTTL:    300,
		maxAttempts:     5,
	}
}

func (c *testConfig) GetSigningKey() string        { return c.signingKey }
func (c *testConfig) GetSessionTTL() int           { return c.sessionTTL }
func (c *testConfig) GetAllowNewUsers() bool       { return c.allowNewUsers }
func (c *testConfig) GetServiceSecrets() []string  { return c.serviceSecrets }
func (c *testConfig) GetInternalSecrets() []string { return c.internalSecrets }
func (c *testConfig) GetPublicBaseURL() string     { return c.publicBaseURL }
func (c *testConfig) GetFrontendBaseURL() string   { return c.frontendBaseURL }
func (c *testConfig) GetLinkChallengeTTL() int     { return c.challengeTTL }
func (c *testConfig) GetLinkMaxAttempts() int      { return c.maxAttempts }

type testStores struct {
	db          *bun.DB
	credentials *repository.CredentialStore
	posts       *repository.PostStore
	jobs        *repository.JobQueue
}

func setupStores(t *testing.T, clock *testClock) *testStores {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, repository.Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return &testStores{
		db:          db,
		credentials: repository.NewCredentialStore(db, repository.WithClock(clock.Now)),
		posts:       repository.NewPostStore(db, repository.WithClock(clock.Now)),
		jobs:        repository.NewJobQueue(db, repository.WithClock(clock.Now)),
	}
}

func requireTextCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, hub.HasTextCode(err, code), "expected %s, got %v", code, err)
}
