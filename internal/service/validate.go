package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
)

// ValidateService sweeps mirrored tokens on a schedule. Tokens the
// provider rejects are dropped from the mirror, which announces the
// delete, and auth:required is published so clients re-prompt the user.
type ValidateService struct {
	tokens TokenService
	bus    Publisher
	cron   *cron.Cron
	log    *zap.Logger
}

// NewValidateService constructs the sweeper; Start arms the schedule.
func NewValidateService(tokens TokenService, bus Publisher, log *zap.Logger) *ValidateService {
	return &ValidateService{
		tokens: tokens,
		bus:    bus,
		cron:   cron.New(),
		log:    log,
	}
}

// Start arms schedule (a cron spec such as "@hourly") and begins running.
func (s *ValidateService) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("arm validation schedule: %w", err)
	}
	s.cron.Start()
	s.log.Info("token validation armed", zap.String("schedule", schedule))
	return nil
}

// Stop disarms the schedule and waits for a running sweep up to ctx's
// deadline.
func (s *ValidateService) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep verifies every mirrored token once. Transport failures keep the
// token for the next sweep; only a definitive provider rejection drops it.
func (s *ValidateService) Sweep(ctx context.Context) {
	for _, platform := range s.tokens.Mirrored(ctx) {
		valid, err := s.tokens.Verify(ctx, platform)
		if err != nil {
			s.log.Warn("token validation skipped",
				zap.String("platform", string(platform)), zap.Error(err))
			continue
		}
		if valid {
			s.log.Debug("token still valid", zap.String("platform", string(platform)))
			continue
		}
		s.log.Info("token rejected by platform, dropping",
			zap.String("platform", string(platform)))
		if err := s.tokens.Delete(ctx, platform); err != nil {
			s.log.Warn("dropping rejected token failed",
				zap.String("platform", string(platform)), zap.Error(err))
			continue
		}
		ev := events.NewEvent(model.EventAuthRequired, platform)
		ev.Reason = "token validation failed"
		s.bus.Publish(ctx, ev)
	}
}
