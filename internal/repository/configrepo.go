// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/castkeep/castkeep/internal/model"
)

// OAuthConfigRepository provides durable access to per-platform OAuth
// client configurations.
type OAuthConfigRepository interface {
	// Put stores cfg under its platform, replacing any previous value.
	Put(ctx context.Context, cfg *model.OAuthConfig) error
	// Get loads the configuration for platform.
	Get(ctx context.Context, platform model.Platform) (*model.OAuthConfig, error)
	// Delete removes the configuration; deleting a missing one succeeds.
	Delete(ctx context.Context, platform model.Platform) error
	// Exists reports whether a configuration is stored for platform.
	Exists(ctx context.Context, platform model.Platform) (bool, error)
	// List returns all stored configurations.
	List(ctx context.Context) ([]model.OAuthConfig, error)
}
