package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

type memCredStore struct {
	creds map[string]*domain.Credential
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: map[string]*domain.Credential{}}
}

func (m *memCredStore) key(user string, p domain.CredentialProvider) string {
	return user + "|" + string(p)
}

func (m *memCredStore) GetCredential(ctx context.Context, user string, p domain.CredentialProvider) (*domain.Credential, error) {
	c, ok := m.creds[m.key(user, p)]
	if !ok || c.Revoked {
		return nil, fault.Newf(fault.AuthRequired, "no usable %s credential", p)
	}
	cp := *c
	return &cp, nil
}

func (m *memCredStore) SaveCredential(ctx context.Context, c *domain.Credential) error {
	cp := *c
	cp.Revoked = false
	m.creds[m.key(c.User, c.Provider)] = &cp
	return nil
}

func (m *memCredStore) RevokeCredential(ctx context.Context, user string, p domain.CredentialProvider) error {
	if c, ok := m.creds[m.key(user, p)]; ok {
		c.Revoked = true
	}
	return nil
}

type fakeRefresher struct {
	fresh *domain.Credential
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fresh, nil
}

func TestValidReturnsFreshTokenUntouched(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	st := newMemCredStore()
	st.SaveCredential(context.Background(), &domain.Credential{
		User: "alice", Provider: domain.ProviderCalendar,
		AccessToken: "tok", Expiry: now.Add(time.Hour),
	})

	refresher := &fakeRefresher{}
	m := NewCredentialManager(st, map[domain.CredentialProvider]TokenRefresher{domain.ProviderCalendar: refresher}, clk)

	cred, err := m.Valid(context.Background(), "alice", domain.ProviderCalendar)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if cred.AccessToken != "tok" || refresher.calls != 0 {
		t.Errorf("token=%q refreshCalls=%d, want untouched token", cred.AccessToken, refresher.calls)
	}
}

func TestValidRefreshesStaleToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	st := newMemCredStore()
	st.SaveCredential(context.Background(), &domain.Credential{
		User: "alice", Provider: domain.ProviderCalendar,
		AccessToken: "stale", RefreshToken: "refresh", Expiry: now.Add(30 * time.Second),
	})

	refresher := &fakeRefresher{fresh: &domain.Credential{AccessToken: "fresh", Expiry: now.Add(time.Hour)}}
	m := NewCredentialManager(st, map[domain.CredentialProvider]TokenRefresher{domain.ProviderCalendar: refresher}, clk)

	cred, err := m.Valid(context.Background(), "alice", domain.ProviderCalendar)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if cred.AccessToken != "fresh" {
		t.Errorf("token = %q, want refreshed", cred.AccessToken)
	}
	if cred.RefreshToken != "refresh" {
		t.Errorf("refresh token = %q, want carried over", cred.RefreshToken)
	}

	// The refreshed credential is persisted.
	stored, err := st.GetCredential(context.Background(), "alice", domain.ProviderCalendar)
	if err != nil || stored.AccessToken != "fresh" {
		t.Errorf("stored = %+v err = %v, want persisted fresh token", stored, err)
	}
}

func TestValidRevokesOnRejectedRefresh(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	st := newMemCredStore()
	st.SaveCredential(context.Background(), &domain.Credential{
		User: "alice", Provider: domain.ProviderMail,
		AccessToken: "stale", RefreshToken: "refresh", Expiry: now,
	})

	refresher := &fakeRefresher{err: errors.New("401 invalid_grant")}
	m := NewCredentialManager(st, map[domain.CredentialProvider]TokenRefresher{domain.ProviderMail: refresher}, clk)

	if _, err := m.Valid(context.Background(), "alice", domain.ProviderMail); !fault.Is(err, fault.AuthRequired) {
		t.Fatalf("err = %v, want auth_required", err)
	}
	// The credential is now revoked: the next call fails fast, no refresh attempt.
	if _, err := m.Valid(context.Background(), "alice", domain.ProviderMail); !fault.Is(err, fault.AuthRequired) {
		t.Fatalf("second err = %v, want auth_required", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}
}

func TestValidKeepsCredentialOnTransientRefreshFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	st := newMemCredStore()
	st.SaveCredential(context.Background(), &domain.Credential{
		User: "alice", Provider: domain.ProviderCalendar,
		AccessToken: "stale", RefreshToken: "refresh", Expiry: now,
	})

	refresher := &fakeRefresher{err: errors.New("connection refused")}
	m := NewCredentialManager(st, map[domain.CredentialProvider]TokenRefresher{domain.ProviderCalendar: refresher}, clk)

	if _, err := m.Valid(context.Background(), "alice", domain.ProviderCalendar); !fault.Is(err, fault.Transient) {
		t.Fatalf("err = %v, want transient", err)
	}
	// Not revoked: a later attempt still finds the credential.
	if _, err := st.GetCredential(context.Background(), "alice", domain.ProviderCalendar); err != nil {
		t.Fatalf("credential was revoked on transient failure: %v", err)
	}
}
