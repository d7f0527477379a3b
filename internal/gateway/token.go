package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kayra-commerce/payments-api/internal/obs"
)

// Authenticator issues fresh credentials. Satisfied by *Client.
type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// TokenSource caches the gateway credential and refreshes it on expiry.
// Concurrent callers during a refresh share a single upstream authenticate
// call; a failed refresh is never cached, so the next caller retries
// immediately.
type TokenSource struct {
	Auth Authenticator
	Skew time.Duration

	mu    sync.Mutex
	cred  Credential
	group singleflight.Group
}

func (t *TokenSource) skew() time.Duration {
	if t.Skew <= 0 {
		return 30 * time.Second
	}
	return t.Skew
}

// Credential returns a usable credential, refreshing it when within the
// safety skew of expiry.
func (t *TokenSource) Credential(ctx context.Context) (Credential, error) {
	now := time.Now()
	t.mu.Lock()
	cached := t.cred
	t.mu.Unlock()
	if cached.usable(t.skew(), now) {
		return cached, nil
	}

	v, err, _ := t.group.Do("credential", func() (any, error) {
		// another waiter may have completed the refresh already
		t.mu.Lock()
		current := t.cred
		t.mu.Unlock()
		if current.usable(t.skew(), time.Now()) {
			return current, nil
		}
		fresh, err := t.Auth.Authenticate(ctx)
		if err != nil {
			if obs.TokenRefreshTotal != nil {
				obs.TokenRefreshTotal.WithLabelValues("error").Inc()
			}
			return Credential{}, err
		}
		if obs.TokenRefreshTotal != nil {
			obs.TokenRefreshTotal.WithLabelValues("success").Inc()
		}
		t.mu.Lock()
		t.cred = fresh
		t.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Invalidate discards the cached credential so the next call refreshes.
// Used when the gateway rejects a credential before its advertised expiry.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	t.cred = Credential{}
	t.mu.Unlock()
}
