package deepgram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hushtype/hushtype/internal/speech/engine"
)

// credentialStore caches the current token and tracks its age. The age
// resets only when the fetched token value actually changes; re-fetching
// the same token does not make it younger.
type credentialStore struct {
	source engine.CredentialSource

	mu       sync.Mutex
	cur      engine.Credential
	issuedAt time.Time
}

func newCredentialStore(source engine.CredentialSource) *credentialStore {
	return &credentialStore{source: source}
}

// Token returns a usable token, fetching one when the cache is empty.
func (c *credentialStore) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.cur.Token
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	_, err := c.Refresh(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Token, nil
}

// Refresh fetches a credential from the source. Reports whether the token
// value changed.
func (c *credentialStore) Refresh(ctx context.Context) (bool, error) {
	cred, err := c.source.Fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch credential: %w", err)
	}
	if cred.Token == "" {
		return false, fmt.Errorf("credential source returned empty token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := cred.Token != c.cur.Token
	c.cur = cred
	if changed {
		c.issuedAt = time.Now()
	}
	return changed, nil
}

// Invalidate drops the cached token; the next Token call fetches fresh.
// Called when the server rejects the credential.
func (c *credentialStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = engine.Credential{}
	c.issuedAt = time.Time{}
}

// RefreshIn returns how long until the cached token should be proactively
// refreshed, keeping margin ahead of expiry. Zero means refresh now;
// ok is false when there is nothing cached or no TTL to track.
func (c *credentialStore) RefreshIn(margin time.Duration) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.Token == "" || c.cur.TTL <= 0 {
		return 0, false
	}
	due := c.issuedAt.Add(c.cur.TTL - margin)
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	return d, true
}
