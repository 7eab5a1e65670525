package provider

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

// refreshSkew is how early a token counts as stale. Refreshing slightly
// before expiry avoids mid-fetch 401s.
const refreshSkew = 2 * time.Minute

// TokenRefresher exchanges a refresh token for fresh credentials.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
}

// CredentialStore is the persistence surface the manager needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, user string, provider domain.CredentialProvider) (*domain.Credential, error)
	SaveCredential(ctx context.Context, c *domain.Credential) error
	RevokeCredential(ctx context.Context, user string, provider domain.CredentialProvider) error
}

// CredentialManager hands out valid credentials, refreshing stale ones. A
// failed refresh revokes the credential so every later caller fails fast
// with a reconnect error instead of hammering the provider.
type CredentialManager struct {
	store      CredentialStore
	refreshers map[domain.CredentialProvider]TokenRefresher
	clk        clock.Clock
}

// NewCredentialManager builds a manager. refreshers may be nil for providers
// whose tokens never expire.
func NewCredentialManager(store CredentialStore, refreshers map[domain.CredentialProvider]TokenRefresher, clk clock.Clock) *CredentialManager {
	if clk == nil {
		clk = clock.System{}
	}
	return &CredentialManager{store: store, refreshers: refreshers, clk: clk}
}

// Valid returns a usable credential for (user, provider), refreshing first
// when the token is within refreshSkew of expiry.
func (m *CredentialManager) Valid(ctx context.Context, user string, p domain.CredentialProvider) (*domain.Credential, error) {
	cred, err := m.store.GetCredential(ctx, user, p)
	if err != nil {
		return nil, err
	}
	if !cred.ExpiresWithin(m.clk.Now(), refreshSkew) {
		return cred, nil
	}

	refresher, ok := m.refreshers[p]
	if !ok || cred.RefreshToken == "" {
		return nil, fault.Newf(fault.AuthRequired, "%s token for %s expired and cannot refresh, reconnect the account", p, user)
	}

	fresh, err := refresher.Refresh(ctx, cred)
	if err != nil {
		classified := fault.Classify(err)
		if fault.KindOf(classified) == fault.AuthRequired {
			// Refresh token rejected: the grant is gone.
			if revokeErr := m.store.RevokeCredential(ctx, user, p); revokeErr != nil {
				return nil, revokeErr
			}
			return nil, fault.Wrap(fault.AuthRequired, "refresh rejected, reconnect the account", err)
		}
		return nil, classified
	}

	fresh.User = user
	fresh.Provider = p
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cred.RefreshToken
	}
	if err := m.store.SaveCredential(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}
