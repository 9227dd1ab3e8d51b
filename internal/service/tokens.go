// Package service contains application services for the token mirror,
// OAuth client configurations, and device authorization flows.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
)

// Publisher pushes notifications toward connected clients.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Verifier checks a token against the platform's validation endpoint.
// (false, nil) means the provider definitively rejected the token;
// transport-class failures come back as errors.
type Verifier interface {
	Verify(ctx context.Context, info model.PlatformInfo, token string) (bool, error)
}

// TokenService defines operations on the agent's in-memory token mirror.
type TokenService interface {
	// Save mirrors the token and announces the save to connected clients.
	Save(ctx context.Context, platform model.Platform, token string) error
	// Has reports whether a token is currently mirrored.
	Has(ctx context.Context, platform model.Platform) (bool, error)
	// Delete drops the mirrored token and announces the delete.
	Delete(ctx context.Context, platform model.Platform) error
	// Verify checks the mirrored token against the platform.
	Verify(ctx context.Context, platform model.Platform) (bool, error)
	// Mirrored lists platforms currently holding a token, in stable order.
	Mirrored(ctx context.Context) []model.Platform
}

// TokenServiceImpl keeps the per-platform token mirror in memory. The
// mirror is deliberately non-durable: after an agent restart it answers
// "no token" until a vault-holding client pushes tokens again.
type TokenServiceImpl struct {
	mu     sync.RWMutex
	tokens map[model.Platform]string

	verifier Verifier
	bus      Publisher
}

// NewTokenService constructs TokenService with required dependencies.
func NewTokenService(verifier Verifier, bus Publisher) *TokenServiceImpl {
	return &TokenServiceImpl{
		tokens:   make(map[model.Platform]string),
		verifier: verifier,
		bus:      bus,
	}
}

// Save mirrors token and announces the save so the vault-holding client
// persists its copy.
func (s *TokenServiceImpl) Save(ctx context.Context, platform model.Platform, token string) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("empty token: %w", errs.ErrInvalidInput)
	}
	s.mu.Lock()
	s.tokens[platform] = token
	s.mu.Unlock()

	ev := events.NewEvent(model.EventSaveToken, platform)
	ev.Token = token
	s.bus.Publish(ctx, ev)
	return nil
}

// Has reports whether a token is mirrored for platform.
func (s *TokenServiceImpl) Has(ctx context.Context, platform model.Platform) (bool, error) {
	if _, err := model.Info(platform); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[platform] != "", nil
}

// Delete drops the mirrored token. The delete announcement goes out even
// when nothing was mirrored: a client vault may hold a copy the mirror
// never saw (agent restart), and applying a delete twice is harmless.
func (s *TokenServiceImpl) Delete(ctx context.Context, platform model.Platform) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.tokens, platform)
	s.mu.Unlock()

	s.bus.Publish(ctx, events.NewEvent(model.EventDeleteToken, platform))
	return nil
}

// Verify checks the mirrored token against the platform's validation
// endpoint. A missing mirror entry is errs.ErrNotFound, distinct from a
// definitive provider rejection of a present token (false, nil).
func (s *TokenServiceImpl) Verify(ctx context.Context, platform model.Platform) (bool, error) {
	info, err := model.Info(platform)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	token := s.tokens[platform]
	s.mu.RUnlock()
	if token == "" {
		return false, fmt.Errorf("no mirrored token for %s: %w", platform, errs.ErrNotFound)
	}
	return s.verifier.Verify(ctx, info, token)
}

// Mirrored lists platforms holding a token, in registry order.
func (s *TokenServiceImpl) Mirrored(ctx context.Context) []model.Platform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Platform
	for _, p := range model.Platforms() {
		if s.tokens[p] != "" {
			out = append(out, p)
		}
	}
	return out
}
