package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/account"
	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	log "github.com/sirupsen/logrus"
)

// tokenCache keeps one live credential set per identity, keyed by the
// composite refresh secret so eviction and re-indexing of the pool cannot
// attach a token to the wrong identity.
type tokenCache struct {
	mu         sync.Mutex
	httpClient *http.Client
	entries    map[string]*auth.AuthDetails
}

func newTokenCache(httpClient *http.Client) *tokenCache {
	return &tokenCache{
		httpClient: httpClient,
		entries:    map[string]*auth.AuthDetails{},
	}
}

// ensure returns fresh credentials for an identity, refreshing when the
// cached access token is missing or within the expiry buffer. A rotated
// refresh secret is folded back into the pool and persisted.
func (c *tokenCache) ensure(ctx context.Context, acct *account.Managed, pool *account.Manager) (*auth.AuthDetails, error) {
	secret := acct.RefreshSecret()

	c.mu.Lock()
	cached := c.entries[secret]
	c.mu.Unlock()

	if cached != nil && !cached.Expired(time.Now()) {
		return cached, nil
	}

	details := cached
	if details == nil {
		details = &auth.AuthDetails{RefreshSecret: secret, Email: acct.Email}
	}
	refreshed, err := auth.Refresh(ctx, c.httpClient, details)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if refreshed.RefreshSecret != secret {
		delete(c.entries, secret)
	}
	c.entries[refreshed.RefreshSecret] = refreshed
	c.mu.Unlock()

	if refreshed.RefreshSecret != secret {
		pool.UpdateFromAuth(acct, refreshed)
		if err = pool.Persist(); err != nil {
			log.Warnf("failed to persist rotated refresh token: %v", err)
		}
	}
	return refreshed, nil
}

// forget drops the cached credentials for an identity, used after eviction.
func (c *tokenCache) forget(secret string) {
	c.mu.Lock()
	delete(c.entries, secret)
	c.mu.Unlock()
}
