package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
	"github.com/castkeep/castkeep/internal/repository"
)

// ConfigService defines operations on stored OAuth client configurations.
type ConfigService interface {
	// Save validates and persists a configuration.
	Save(ctx context.Context, cfg *model.OAuthConfig) error
	// Get returns the stored configuration for a platform.
	Get(ctx context.Context, platform model.Platform) (*model.OAuthConfig, error)
	// Delete removes the stored configuration; missing is not an error.
	Delete(ctx context.Context, platform model.Platform) error
	// Exists reports whether a configuration is stored.
	Exists(ctx context.Context, platform model.Platform) (bool, error)
}

type ConfigServiceImpl struct {
	repo repository.OAuthConfigRepository
	bus  Publisher
}

// NewConfigService constructs ConfigService with required dependencies.
func NewConfigService(repo repository.OAuthConfigRepository, bus Publisher) *ConfigServiceImpl {
	return &ConfigServiceImpl{repo: repo, bus: bus}
}

// Save validates and persists cfg. Auth-code configurations carry a client
// secret, so the full configuration is announced for the vault-holding
// client to mirror; device-code configurations hold no secret material and
// stay agent-side only.
func (s *ConfigServiceImpl) Save(ctx context.Context, cfg *model.OAuthConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config: %w", errs.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.repo.Put(ctx, cfg); err != nil {
		return err
	}
	if cfg.Grant == model.GrantAuthCode {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal oauth config: %w", err)
		}
		ev := events.NewEvent(model.EventSaveSecret, cfg.Platform)
		ev.Secret = string(payload)
		s.bus.Publish(ctx, ev)
	}
	return nil
}

// Get returns the stored configuration for platform.
func (s *ConfigServiceImpl) Get(ctx context.Context, platform model.Platform) (*model.OAuthConfig, error) {
	if _, err := model.Info(platform); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, platform)
}

// Delete removes the stored configuration. The delete announcement always
// goes out so a client vault clears any mirrored copy, even when the
// agent-side record was already gone.
func (s *ConfigServiceImpl) Delete(ctx context.Context, platform model.Platform) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, platform); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.NewEvent(model.EventDeleteSecret, platform))
	return nil
}

// Exists reports whether a configuration is stored for platform.
func (s *ConfigServiceImpl) Exists(ctx context.Context, platform model.Platform) (bool, error) {
	if _, err := model.Info(platform); err != nil {
		return false, err
	}
	return s.repo.Exists(ctx, platform)
}
