// Package credentials provides the typed credential layer over the vault
// session and the cached existence view the UI reads.
package credentials

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
	"github.com/castkeep/castkeep/internal/vault"
)

// Repository stores platform credentials in the vault under composite
// string keys: "<platform>_token" and "<platform>_oauth_secret". Every
// operation fails with errs.ErrVaultLocked while the session is locked.
// Mutations persist the container before returning; the returned error is
// the durability signal.
type Repository struct {
	session *vault.Session
	log     *zap.Logger
}

// NewRepository builds a Repository over session.
func NewRepository(session *vault.Session, log *zap.Logger) *Repository {
	return &Repository{session: session, log: log}
}

func tokenKey(p model.Platform) string  { return string(p) + "_token" }
func secretKey(p model.Platform) string { return string(p) + "_oauth_secret" }

// SaveToken writes the platform token and persists before returning.
func (r *Repository) SaveToken(ctx context.Context, platform model.Platform, token string) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", errs.ErrInvalidInput)
	}
	return r.put(ctx, tokenKey(platform), []byte(token))
}

// Token reads the platform token; ok is false when none is stored.
func (r *Repository) Token(ctx context.Context, platform model.Platform) (string, bool, error) {
	if _, err := model.Info(platform); err != nil {
		return "", false, err
	}
	return r.get(tokenKey(platform))
}

// DeleteToken removes the platform token; deleting a missing token succeeds.
func (r *Repository) DeleteToken(ctx context.Context, platform model.Platform) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	return r.remove(ctx, tokenKey(platform))
}

// HasToken reports whether a non-empty token is stored for platform.
func (r *Repository) HasToken(ctx context.Context, platform model.Platform) (bool, error) {
	if _, err := model.Info(platform); err != nil {
		return false, err
	}
	v, ok, err := r.get(tokenKey(platform))
	if err != nil {
		return false, err
	}
	return ok && v != "", nil
}

// SaveOAuthSecret writes the serialized OAuth client secret for platform.
func (r *Repository) SaveOAuthSecret(ctx context.Context, platform model.Platform, secret string) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("%w: empty secret", errs.ErrInvalidInput)
	}
	return r.put(ctx, secretKey(platform), []byte(secret))
}

// OAuthSecret reads the serialized secret; ok is false when none is stored.
func (r *Repository) OAuthSecret(ctx context.Context, platform model.Platform) (string, bool, error) {
	if _, err := model.Info(platform); err != nil {
		return "", false, err
	}
	return r.get(secretKey(platform))
}

// DeleteOAuthSecret removes the stored secret; missing entries succeed.
func (r *Repository) DeleteOAuthSecret(ctx context.Context, platform model.Platform) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	return r.remove(ctx, secretKey(platform))
}

func (r *Repository) put(ctx context.Context, key string, value []byte) error {
	p, err := r.session.Partition()
	if err != nil {
		return err
	}
	p.Set(key, value)
	if err := r.session.Persist(ctx); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	r.log.Debug("credential stored", zap.String("key", key))
	return nil
}

func (r *Repository) get(key string) (string, bool, error) {
	p, err := r.session.Partition()
	if err != nil {
		return "", false, err
	}
	v, ok := p.Get(key)
	if !ok {
		return "", false, nil
	}
	return string(v), true, nil
}

func (r *Repository) remove(ctx context.Context, key string) error {
	p, err := r.session.Partition()
	if err != nil {
		return err
	}
	p.Remove(key)
	if err := r.session.Persist(ctx); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	r.log.Debug("credential removed", zap.String("key", key))
	return nil
}
