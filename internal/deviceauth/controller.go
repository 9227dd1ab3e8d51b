// Package deviceauth drives one device-authorization attempt from the
// client side: request codes, show them, count down, wait for approval.
package deviceauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/api"
	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// State is the controller's lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateRequesting   State = "requesting"
	StateAwaitingUser State = "awaiting_user"
	StatePolling      State = "polling"
	StateSucceeded    State = "succeeded"
	StateExpired      State = "expired"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether s ends the attempt.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExpired, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Update is one surfaced transition. Attempt is set from AwaitingUser on,
// Remaining counts down during polling, Token arrives with Succeeded and
// Err with Failed or Expired.
type Update struct {
	State     State
	Attempt   *model.DeviceAuthorization
	Remaining int
	Token     string
	Err       error
}

// Agent is the slice of the agent client the controller needs.
type Agent interface {
	OAuthConfig(ctx context.Context, platform model.Platform) (*api.OAuthConfigResponse, error)
	StartDeviceAuth(ctx context.Context, platform model.Platform) (*model.DeviceAuthorization, error)
	PollDeviceToken(ctx context.Context, platform model.Platform, req api.PollTokenRequest) (string, error)
	CancelDeviceAuth(ctx context.Context, platform model.Platform, deviceCode string) error
}

// Controller runs a single attempt. Construct one per login; Run may be
// called once. The caller must drain the updates channel until it closes.
type Controller struct {
	agent Agent
	log   *zap.Logger

	mu        sync.Mutex
	started   bool
	cancelled bool
	abort     context.CancelFunc
}

// New builds an idle controller.
func New(agent Agent, log *zap.Logger) *Controller {
	return &Controller{agent: agent, log: log}
}

// Run starts the attempt and returns the updates channel.
func (c *Controller) Run(ctx context.Context, platform model.Platform) (<-chan Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, errors.New("device auth controller is single-use")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.abort = cancel
	if c.cancelled {
		cancel()
	}

	updates := make(chan Update)
	go c.run(runCtx, platform, updates)
	return updates, nil
}

// Cancel moves any non-terminal attempt to Cancelled. Safe to call from
// another goroutine and before Run.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.abort != nil {
		c.abort()
	}
}

func (c *Controller) run(ctx context.Context, platform model.Platform, updates chan<- Update) {
	defer close(updates)

	updates <- Update{State: StateRequesting}

	da, err := c.agent.StartDeviceAuth(ctx, platform)
	if err != nil {
		if ctx.Err() != nil {
			updates <- Update{State: StateCancelled}
			return
		}
		updates <- Update{State: StateFailed, Err: err}
		return
	}
	cfg, err := c.agent.OAuthConfig(ctx, platform)
	if err != nil {
		if ctx.Err() != nil {
			c.cancelAgent(platform, da.DeviceCode)
			updates <- Update{State: StateCancelled}
			return
		}
		updates <- Update{State: StateFailed, Err: err}
		return
	}

	expiry := time.Now().Add(time.Duration(da.ExpiresIn) * time.Second)
	updates <- Update{State: StateAwaitingUser, Attempt: da, Remaining: da.ExpiresIn}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	type pollResult struct {
		token string
		err   error
	}
	resCh := make(chan pollResult, 1)
	go func() {
		tok, err := c.agent.PollDeviceToken(pollCtx, platform, api.PollTokenRequest{
			DeviceCode: da.DeviceCode,
			ClientID:   cfg.ClientID,
			Interval:   da.Interval,
		})
		resCh <- pollResult{token: tok, err: err}
	}()

	updates <- Update{State: StatePolling, Attempt: da, Remaining: da.ExpiresIn}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case res := <-resCh:
			switch {
			case res.err == nil:
				updates <- Update{State: StateSucceeded, Attempt: da, Token: res.token}
			case ctx.Err() != nil:
				c.cancelAgent(platform, da.DeviceCode)
				updates <- Update{State: StateCancelled, Attempt: da}
			case errors.Is(res.err, errs.ErrFlowExpired):
				updates <- Update{State: StateExpired, Attempt: da, Err: res.err}
			default:
				// Denial and transport failures both end here; Err keeps
				// them distinguishable for the caller.
				updates <- Update{State: StateFailed, Attempt: da, Err: res.err}
			}
			return

		case <-ticker.C:
			remaining := int(time.Until(expiry).Seconds())
			if remaining <= 0 {
				// The agent's poll may still be in flight; the local
				// countdown wins and the attempt is cancelled remotely.
				stopPoll()
				c.cancelAgent(platform, da.DeviceCode)
				updates <- Update{State: StateExpired, Attempt: da, Err: errs.ErrFlowExpired}
				return
			}
			select {
			case updates <- Update{State: StatePolling, Attempt: da, Remaining: remaining}:
			default:
				// Countdown ticks are droppable; transitions are not.
			}

		case <-ctx.Done():
			stopPoll()
			c.cancelAgent(platform, da.DeviceCode)
			updates <- Update{State: StateCancelled, Attempt: da}
			return
		}
	}
}

// cancelAgent is best-effort: the attempt may already be gone and the
// agent may be down, neither of which matters here.
func (c *Controller) cancelAgent(platform model.Platform, deviceCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.agent.CancelDeviceAuth(ctx, platform, deviceCode); err != nil {
		c.log.Debug("device auth cancel failed", zap.Error(err))
	}
}
