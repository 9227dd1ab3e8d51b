package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// TokenReader answers token existence from the local vault.
// *Repository satisfies it.
type TokenReader interface {
	HasToken(ctx context.Context, platform model.Platform) (bool, error)
}

// Remote answers existence questions from the agent's authoritative store.
type Remote interface {
	HasToken(ctx context.Context, platform model.Platform) (bool, error)
	HasOAuthConfig(ctx context.Context, platform model.Platform) (bool, error)
}

// StatusCache memoizes per-platform existence of tokens and OAuth configs.
// Token answers come from the vault while it is unlocked and from the
// remote otherwise; OAuth config answers always come from the remote.
// There is no background refresh; callers invalidate after every mutation.
type StatusCache struct {
	local  TokenReader
	remote Remote
	log    *zap.Logger

	mu   sync.RWMutex
	snap *model.StatusSnapshot
}

// NewStatusCache builds an empty cache; Snapshot reports no value until the
// first RefreshAll.
func NewStatusCache(local TokenReader, remote Remote, log *zap.Logger) *StatusCache {
	return &StatusCache{local: local, remote: remote, log: log}
}

// RefreshAll recomputes the full mapping. A locked vault is not an error:
// token answers degrade to the remote. Remote transport failures degrade
// that answer to false and are joined into the returned error; the partial
// snapshot is still cached and returned.
func (c *StatusCache) RefreshAll(ctx context.Context) (model.StatusSnapshot, error) {
	snap := model.StatusSnapshot{
		Tokens:       make(map[model.Platform]bool),
		OAuthConfigs: make(map[model.Platform]bool),
	}
	var problems []error
	for _, p := range model.Platforms() {
		hasTok, err := c.local.HasToken(ctx, p)
		if errors.Is(err, errs.ErrVaultLocked) {
			hasTok, err = c.remote.HasToken(ctx, p)
		}
		if err != nil {
			c.log.Warn("token status degraded",
				zap.String("platform", string(p)), zap.Error(err))
			problems = append(problems, fmt.Errorf("%s token: %w", p, err))
			hasTok = false
		}
		snap.Tokens[p] = hasTok

		hasCfg, err := c.remote.HasOAuthConfig(ctx, p)
		if err != nil {
			c.log.Warn("oauth config status degraded",
				zap.String("platform", string(p)), zap.Error(err))
			problems = append(problems, fmt.Errorf("%s oauth config: %w", p, err))
			hasCfg = false
		}
		snap.OAuthConfigs[p] = hasCfg
	}

	c.mu.Lock()
	c.snap = &snap
	c.mu.Unlock()
	return copySnapshot(snap), errors.Join(problems...)
}

// Snapshot returns the cached view; ok is false before the first refresh
// and after Invalidate.
func (c *StatusCache) Snapshot() (model.StatusSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return model.StatusSnapshot{}, false
	}
	return copySnapshot(*c.snap), true
}

// Invalidate clears the cached view. Callers invalidate after any mutation
// and on session lock so stale pre-lock answers never surface.
func (c *StatusCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

func copySnapshot(in model.StatusSnapshot) model.StatusSnapshot {
	out := model.StatusSnapshot{
		Tokens:       make(map[model.Platform]bool, len(in.Tokens)),
		OAuthConfigs: make(map[model.Platform]bool, len(in.OAuthConfigs)),
	}
	for k, v := range in.Tokens {
		out.Tokens[k] = v
	}
	for k, v := range in.OAuthConfigs {
		out.OAuthConfigs[k] = v
	}
	return out
}
