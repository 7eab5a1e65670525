package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

const encPrefix = "ENC[age:"
const encSuffix = "]"

// tokenCodec encrypts credential tokens at rest with an age X25519 identity.
type tokenCodec struct {
	keyPath  string
	identity *age.X25519Identity
}

// init creates the key file with 0o600 if missing, then loads it.
func (c *tokenCodec) init() error {
	if _, err := os.Stat(c.keyPath); errors.Is(err, os.ErrNotExist) {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return fmt.Errorf("generate age identity: %w", err)
		}
		content := fmt.Sprintf("# created by dayflow\n# public key: %s\n%s\n",
			identity.Recipient().String(), identity.String())
		if err := os.MkdirAll(filepath.Dir(c.keyPath), 0o755); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(c.keyPath, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write age key: %w", err)
		}
	}

	f, err := os.Open(c.keyPath)
	if err != nil {
		return fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return fmt.Errorf("parse age identities: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in %s", c.keyPath)
	}
	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return fmt.Errorf("unexpected identity type in %s", c.keyPath)
	}
	c.identity = id
	return nil
}

func (c *tokenCodec) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("age encrypt init: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt close: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

func (c *tokenCodec) decrypt(blob string) (string, error) {
	if !strings.HasPrefix(blob, encPrefix) || !strings.HasSuffix(blob, encSuffix) {
		return blob, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[len(encPrefix) : len(blob)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("base64 decode token: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt token: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted token: %w", err)
	}
	return string(plain), nil
}

func (s *Store) sealToken(plain string) (string, error) {
	if s.codec == nil {
		return plain, nil
	}
	return s.codec.encrypt(plain)
}

func (s *Store) openToken(blob string) (string, error) {
	if s.codec == nil {
		return blob, nil
	}
	return s.codec.decrypt(blob)
}

// SaveCredential stores or replaces a user's credential for a provider.
// Saving clears any revoked flag: a fresh token is a reconnect.
func (s *Store) SaveCredential(ctx context.Context, c *domain.Credential) error {
	access, err := s.sealToken(c.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealToken(c.RefreshToken)
	if err != nil {
		return err
	}
	scopes, _ := json.Marshal(c.Scopes)
	if c.Scopes == nil {
		scopes = []byte("[]")
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO credentials
			(user_id, provider, access_token, refresh_token, expiry, scopes, revoked, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT (user_id, provider) DO UPDATE SET
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				expiry = excluded.expiry,
				scopes = excluded.scopes,
				revoked = 0,
				updated_at = excluded.updated_at`,
		c.User, string(c.Provider), access, refresh, fmtTime(c.Expiry), string(scopes), fmtTime(now))
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// GetCredential loads a user's credential for a provider. A missing or
// revoked credential surfaces as an auth_required fault so pipelines fail
// fast with a reconnect error.
func (s *Store) GetCredential(ctx context.Context, user string, provider domain.CredentialProvider) (*domain.Credential, error) {
	var (
		c         domain.Credential
		expiry    string
		scopes    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT user_id, provider, access_token, refresh_token, expiry, scopes, revoked, updated_at
			FROM credentials WHERE user_id = ? AND provider = ?`,
		user, string(provider)).
		Scan(&c.User, &c.Provider, &c.AccessToken, &c.RefreshToken, &expiry, &scopes, &c.Revoked, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.AuthRequired, "no %s credential for %s, reconnect the account", provider, user)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if c.Revoked {
		return nil, fault.Newf(fault.AuthRequired, "%s credential for %s was revoked, reconnect the account", provider, user)
	}

	if c.AccessToken, err = s.openToken(c.AccessToken); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = s.openToken(c.RefreshToken); err != nil {
		return nil, err
	}
	c.Expiry = parseTime(expiry)
	c.UpdatedAt = parseTime(updatedAt)
	if scopes != "" {
		json.Unmarshal([]byte(scopes), &c.Scopes)
	}
	return &c, nil
}

// RevokeCredential marks a credential unusable until the user reconnects.
func (s *Store) RevokeCredential(ctx context.Context, user string, provider domain.CredentialProvider) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET revoked = 1, updated_at = ? WHERE user_id = ? AND provider = ?`,
		fmtTime(s.now()), user, string(provider))
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}
