package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/limiter"
)

// DefaultPartition is the partition the client keeps its credentials in.
const DefaultPartition = "client"

// Session guards access to a container with an explicit Locked/Unlocked
// state. One session per process, constructed and injected.
type Session struct {
	mu        sync.Mutex
	path      string
	partition string
	throttle  limiter.Limiter
	log       *zap.Logger

	c *Container
}

// NewSession builds a locked session over the container at path.
func NewSession(path, partition string, throttle limiter.Limiter, log *zap.Logger) *Session {
	if partition == "" {
		partition = DefaultPartition
	}
	return &Session{path: path, partition: partition, throttle: throttle, log: log}
}

// Initialize opens the container with password, creating the file on first
// use, and moves the session to Unlocked. Wrong-password attempts are
// throttled; while blocked it fails fast with errs.ErrRateLimited. On an
// already unlocked session it re-reads the file and replaces the handle.
func (s *Session) Initialize(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", errs.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, retry, err := s.throttle.Allow(ctx, s.path)
	if err != nil {
		return fmt.Errorf("unlock throttle: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry.Round(time.Second))
	}

	c, err := Open(ctx, s.path, password)
	if err != nil {
		if errors.Is(err, errs.ErrBadPassword) {
			blocked, dur, ferr := s.throttle.Failure(ctx, s.path)
			switch {
			case ferr != nil:
				s.log.Warn("recording unlock failure", zap.Error(ferr))
			case blocked:
				s.log.Warn("unlock attempts blocked", zap.Duration("for", dur))
			}
		}
		return err
	}
	if err := s.throttle.Success(ctx, s.path); err != nil {
		s.log.Warn("resetting unlock counter", zap.Error(err))
	}

	if s.c != nil {
		s.c.Wipe()
	}
	s.c = c
	s.log.Info("vault unlocked", zap.String("path", s.path))
	return nil
}

// Lock discards the decrypted handle. Idempotent; the file is untouched.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.c.Wipe()
	s.c = nil
	s.log.Info("vault locked")
}

// IsUnlocked reports the session state without touching disk.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Partition returns the client partition, or errs.ErrVaultLocked.
func (s *Session) Partition() (*Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil, errs.ErrVaultLocked
	}
	return s.c.Partition(s.partition), nil
}

// Persist flushes the container, or fails with errs.ErrVaultLocked.
func (s *Session) Persist(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c == nil {
		return errs.ErrVaultLocked
	}
	return c.Persist(ctx)
}

// Initialized reports whether the container file exists on disk.
func (s *Session) Initialized() (bool, error) {
	return Initialized(s.path)
}
