package credentials

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

/************ fakes ************/

type fakeLocal struct {
	tokens map[model.Platform]bool
	err    error
	calls  int
}

func (f *fakeLocal) HasToken(ctx context.Context, p model.Platform) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.tokens[p], nil
}

type fakeRemote struct {
	tokens     map[model.Platform]bool
	cfgs       map[model.Platform]bool
	tokenErr   error
	cfgErr     error
	tokenCalls int
}

func (f *fakeRemote) HasToken(ctx context.Context, p model.Platform) (bool, error) {
	f.tokenCalls++
	if f.tokenErr != nil {
		return false, f.tokenErr
	}
	return f.tokens[p], nil
}

func (f *fakeRemote) HasOAuthConfig(ctx context.Context, p model.Platform) (bool, error) {
	if f.cfgErr != nil {
		return false, f.cfgErr
	}
	return f.cfgs[p], nil
}

func TestStatusCache_UnlockedUsesLocalTokens(t *testing.T) {
	local := &fakeLocal{tokens: map[model.Platform]bool{model.Twitch: true}}
	remote := &fakeRemote{
		tokens: map[model.Platform]bool{model.Twitch: false}, // ignored while unlocked
		cfgs:   map[model.Platform]bool{model.YouTube: true},
	}
	c := NewStatusCache(local, remote, zap.NewNop())

	snap, err := c.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if !snap.Tokens[model.Twitch] || snap.Tokens[model.YouTube] {
		t.Fatalf("tokens=%v", snap.Tokens)
	}
	if snap.OAuthConfigs[model.Twitch] || !snap.OAuthConfigs[model.YouTube] {
		t.Fatalf("configs=%v", snap.OAuthConfigs)
	}
	if remote.tokenCalls != 0 {
		t.Fatalf("remote token calls=%d, want 0 while unlocked", remote.tokenCalls)
	}
}

func TestStatusCache_LockedFallsBackToRemote(t *testing.T) {
	local := &fakeLocal{err: errs.ErrVaultLocked}
	remote := &fakeRemote{
		tokens: map[model.Platform]bool{model.YouTube: true},
		cfgs:   map[model.Platform]bool{},
	}
	c := NewStatusCache(local, remote, zap.NewNop())

	snap, err := c.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if snap.Tokens[model.Twitch] || !snap.Tokens[model.YouTube] {
		t.Fatalf("tokens=%v", snap.Tokens)
	}
	if remote.tokenCalls != len(model.Platforms()) {
		t.Fatalf("remote token calls=%d", remote.tokenCalls)
	}
}

func TestStatusCache_RemoteFailureDegrades(t *testing.T) {
	local := &fakeLocal{err: errs.ErrVaultLocked}
	remote := &fakeRemote{
		tokenErr: errs.ErrBackendUnavailable,
		cfgs:     map[model.Platform]bool{model.Twitch: true},
	}
	c := NewStatusCache(local, remote, zap.NewNop())

	snap, err := c.RefreshAll(context.Background())
	if !errors.Is(err, errs.ErrBackendUnavailable) {
		t.Fatalf("want joined ErrBackendUnavailable, got %v", err)
	}
	for p, has := range snap.Tokens {
		if has {
			t.Fatalf("degraded token answer for %s must be false", p)
		}
	}
	// Config answers remain usable even when token calls fail.
	if !snap.OAuthConfigs[model.Twitch] {
		t.Fatalf("configs=%v", snap.OAuthConfigs)
	}
}

func TestStatusCache_SnapshotAndInvalidate(t *testing.T) {
	local := &fakeLocal{tokens: map[model.Platform]bool{model.Twitch: true}}
	remote := &fakeRemote{cfgs: map[model.Platform]bool{}}
	c := NewStatusCache(local, remote, zap.NewNop())

	if _, ok := c.Snapshot(); ok {
		t.Fatalf("snapshot before refresh must report no value")
	}

	if _, err := c.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	snap, ok := c.Snapshot()
	if !ok || !snap.Tokens[model.Twitch] {
		t.Fatalf("snapshot after refresh: ok=%v snap=%v", ok, snap)
	}

	// Mutating the returned maps must not touch the cache.
	snap.Tokens[model.Twitch] = false
	again, _ := c.Snapshot()
	if !again.Tokens[model.Twitch] {
		t.Fatalf("snapshot must return a copy")
	}

	c.Invalidate()
	if _, ok := c.Snapshot(); ok {
		t.Fatalf("snapshot after invalidate must report no value")
	}
}
