package monitor

import (
	"context"
	"fmt"
	"time"
)

// DefaultRequestTimeout bounds every outbound call made on behalf of a worker.
const DefaultRequestTimeout = 10 * time.Second

// TokenRefresher exchanges a refresh token for a new credential at the provider's token endpoint.
// The returned credential must carry a locally stamped IssuedAt.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// TokenLifecycle decides when a user's credential needs refreshing and writes refreshed
// credentials back to the store. Only the worker that owns a user calls it for that user,
// so refreshes for one user never race.
type TokenLifecycle struct {
	refresher TokenRefresher
	store     *Store
	timeout   time.Duration
	skew      time.Duration
	now       func() time.Time
}

// TokenOption configures a TokenLifecycle.
type TokenOption func(*TokenLifecycle)

// WithRefreshTimeout overrides the per-refresh timeout.
func WithRefreshTimeout(d time.Duration) TokenOption {
	return func(t *TokenLifecycle) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(t *TokenLifecycle) {
		t.now = now
	}
}

// NewTokenLifecycle constructs a TokenLifecycle.
func NewTokenLifecycle(refresher TokenRefresher, store *Store, opts ...TokenOption) *TokenLifecycle {
	t := &TokenLifecycle{
		refresher: refresher,
		store:     store,
		timeout:   DefaultRequestTimeout,
		skew:      ExpirySkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureFresh returns a credential that is not about to expire. If the stored one is
// expiring it is refreshed and the store is overwritten; refreshed reports whether that happened.
// Errors are returned unchanged and never retried here.
func (t *TokenLifecycle) EnsureFresh(ctx context.Context, rec UserRecord) (cred Credential, refreshed bool, err error) {
	if !rec.Credential.IsExpiring(t.now(), t.skew) {
		return rec.Credential, false, nil
	}
	cred, err = t.refresh(ctx, rec, "expiry")
	if err != nil {
		return rec.Credential, false, err
	}
	return cred, true, nil
}

// Repair refreshes the credential regardless of its recorded expiry. It is used after the
// device API rejected the access token, since revocation or clock drift can make local
// expiry tracking wrong.
func (t *TokenLifecycle) Repair(ctx context.Context, rec UserRecord) (Credential, error) {
	return t.refresh(ctx, rec, "unauthorized")
}

func (t *TokenLifecycle) refresh(ctx context.Context, rec UserRecord, trigger string) (Credential, error) {
	if rec.Credential.RefreshToken == "" {
		tokenRefreshes.WithLabelValues(trigger, "error").Inc()
		return Credential{}, fmt.Errorf("refresh token for user %s: no refresh token stored", rec.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cred, err := t.refresher.Refresh(callCtx, rec.Credential.RefreshToken)
	if err != nil {
		tokenRefreshes.WithLabelValues(trigger, "error").Inc()
		return Credential{}, fmt.Errorf("refresh token for user %s: %w", rec.ID, err)
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = t.now()
	}

	if err := t.store.UpdateCredential(ctx, rec.ID, cred); err != nil {
		tokenRefreshes.WithLabelValues(trigger, "error").Inc()
		return Credential{}, fmt.Errorf("store refreshed token for user %s: %w", rec.ID, err)
	}
	tokenRefreshes.WithLabelValues(trigger, "ok").Inc()
	return cred, nil
}
