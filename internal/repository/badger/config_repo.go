package badger

import (
	"context"
	"errors"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// ConfigRepo persists per-platform OAuth client configurations, keyed by
// platform name.
type ConfigRepo struct{ db *DB }

// NewConfigRepo constructs an OAuth config repository.
func NewConfigRepo(db *DB) *ConfigRepo { return &ConfigRepo{db: db} }

// Put stores cfg under its platform, replacing any previous value and
// stamping UpdatedAt.
func (r *ConfigRepo) Put(ctx context.Context, cfg *model.OAuthConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	return r.db.store.Upsert(string(cfg.Platform), cfg)
}

// Get returns the stored configuration for platform.
func (r *ConfigRepo) Get(ctx context.Context, platform model.Platform) (*model.OAuthConfig, error) {
	var cfg model.OAuthConfig
	if err := r.db.store.Get(string(platform), &cfg); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// Delete removes the configuration; deleting a missing one succeeds.
func (r *ConfigRepo) Delete(ctx context.Context, platform model.Platform) error {
	err := r.db.store.Delete(string(platform), &model.OAuthConfig{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}

// Exists reports whether a configuration is stored for platform.
func (r *ConfigRepo) Exists(ctx context.Context, platform model.Platform) (bool, error) {
	_, err := r.Get(ctx, platform)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns all stored configurations.
func (r *ConfigRepo) List(ctx context.Context) ([]model.OAuthConfig, error) {
	var out []model.OAuthConfig
	if err := r.db.store.Find(&out, nil); err != nil {
		return nil, err
	}
	return out, nil
}
