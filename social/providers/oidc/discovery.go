package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-auth-hub/social"
)

// DefaultDiscoveryTTL is how long discovered metadata is reused
const DefaultDiscoveryTTL = 600 * time.Second

// Metadata is the subset of the OpenID provider configuration we use
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`
}

// MetadataCache stores discovered metadata keyed by issuer.
type MetadataCache interface {
	Get(ctx context.Context, issuer string) (*Metadata, bool)
	Set(ctx context.Context, issuer string, meta *Metadata, ttl time.Duration)
}

type cacheEntry struct {
	meta      *Metadata
	expiresAt time.Time
}

// MemoryCache is a process local MetadataCache. Every read checks expiry;
// failed refetches never fall back to stale entries.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache. now defaults to time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

func (c *MemoryCache) Get(_ context.Context, issuer string) (*Metadata, bool) {
	c.mu.RLock()
	entry, ok := c.entries[issuer]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[issuer]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, issuer)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.meta, true
}

func (c *MemoryCache) Set(_ context.Context, issuer string, meta *Metadata, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[issuer] = cacheEntry{meta: meta, expiresAt: c.now().Add(ttl)}
}

// discover returns cached metadata or fetches the issuer configuration.
func (p *Provider) discover(ctx context.Context) (*Metadata, error) {
	if meta, ok := p.cache.Get(ctx, p.config.Issuer); ok {
		return meta, nil
	}

	endpoint := strings.TrimRight(p.config.Issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, social.MaxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerError("discovery", resp.StatusCode, "", strings.TrimSpace(string(body)), nil, nil)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, providerError("discovery", resp.StatusCode, social.CodeInvalidResponse, "failed to decode provider configuration", err, nil)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" || meta.JWKSURI == "" {
		return nil, providerError("discovery", resp.StatusCode, social.CodeInvalidResponse, "provider configuration is missing endpoints", nil, nil)
	}

	p.cache.Set(ctx, p.config.Issuer, &meta, p.config.DiscoveryTTL)
	p.logger.Debug("discovered OIDC metadata for %s", p.config.Issuer)

	return &meta, nil
}
