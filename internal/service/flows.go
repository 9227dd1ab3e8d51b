package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
	"github.com/castkeep/castkeep/internal/repository"
)

// defaultPollInterval is the RFC 8628 fallback when the provider omits one.
const defaultPollInterval = 5

// Exchanger abstracts the provider's device-authorization endpoints.
type Exchanger interface {
	DeviceAuth(ctx context.Context, cfg *oauth2.Config) (*oauth2.DeviceAuthResponse, error)
	DeviceAccessToken(ctx context.Context, cfg *oauth2.Config, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error)
}

// OAuth2Exchanger is the production Exchanger backed by golang.org/x/oauth2.
type OAuth2Exchanger struct{}

func (OAuth2Exchanger) DeviceAuth(ctx context.Context, cfg *oauth2.Config) (*oauth2.DeviceAuthResponse, error) {
	return cfg.DeviceAuth(ctx)
}

func (OAuth2Exchanger) DeviceAccessToken(ctx context.Context, cfg *oauth2.Config, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	return cfg.DeviceAccessToken(ctx, da)
}

// PollRequest echoes the attempt parameters back for validation.
type PollRequest struct {
	DeviceCode string
	ClientID   string
	Interval   int
}

// FlowService runs device-authorization attempts.
type FlowService interface {
	// Start begins an attempt, superseding any active one for the platform.
	Start(ctx context.Context, platform model.Platform) (*model.DeviceAuthorization, error)
	// Poll blocks until the attempt resolves and returns the access token.
	Poll(ctx context.Context, platform model.Platform, req PollRequest) (string, error)
	// Cancel aborts the active attempt; unknown attempts are a no-op.
	Cancel(ctx context.Context, platform model.Platform, deviceCode string) error
}

// attempt is one outstanding device authorization. da, cfg and interval
// are immutable after creation; polling and abort are guarded by the
// service mutex.
type attempt struct {
	da       *oauth2.DeviceAuthResponse
	cfg      *oauth2.Config
	interval int
	polling  bool
	abort    context.CancelFunc // set while a poll is in flight
}

// FlowServiceImpl keeps at most one active attempt per platform.
type FlowServiceImpl struct {
	mu       sync.Mutex
	attempts map[model.Platform]*attempt

	configs repository.OAuthConfigRepository
	tokens  TokenService
	bus     Publisher
	ex      Exchanger
}

// NewFlowService constructs FlowService with required dependencies.
func NewFlowService(configs repository.OAuthConfigRepository, tokens TokenService, bus Publisher, ex Exchanger) *FlowServiceImpl {
	return &FlowServiceImpl{
		attempts: make(map[model.Platform]*attempt),
		configs:  configs,
		tokens:   tokens,
		bus:      bus,
		ex:       ex,
	}
}

// Start requests a device authorization from the platform. A prior active
// attempt is superseded: its poll is aborted and its codes stop matching,
// so exactly one attempt is live per platform.
func (s *FlowServiceImpl) Start(ctx context.Context, platform model.Platform) (*model.DeviceAuthorization, error) {
	info, err := model.Info(platform)
	if err != nil {
		return nil, err
	}
	if info.Grant != model.GrantDeviceCode {
		return nil, fmt.Errorf("%s uses the %s grant: %w", platform, info.Grant, errs.ErrUnsupportedGrant)
	}
	cfg, err := s.configs.Get(ctx, platform)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", platform, errs.ErrNoOAuthConfig)
		}
		return nil, err
	}

	ocfg := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: info.Endpoint,
		Scopes:   info.Scopes,
	}
	da, err := s.ex.DeviceAuth(ctx, ocfg)
	if err != nil {
		return nil, fmt.Errorf("device authorization for %s: %v: %w", platform, err, errs.ErrBackendUnavailable)
	}

	interval := int(da.Interval)
	if interval <= 0 {
		interval = defaultPollInterval
	}

	s.mu.Lock()
	if prev := s.attempts[platform]; prev != nil && prev.abort != nil {
		prev.abort()
	}
	s.attempts[platform] = &attempt{da: da, cfg: ocfg, interval: interval}
	s.mu.Unlock()

	expiresIn := int(time.Until(da.Expiry).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &model.DeviceAuthorization{
		Platform:                platform,
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresIn:               expiresIn,
		Interval:                interval,
	}, nil
}

// Poll validates req against the active attempt and blocks until the user
// approves, the codes expire, or the attempt is aborted. On success the
// token is saved through TokenService before auth:success goes out, so a
// subscriber seeing the success has already been sent the save.
func (s *FlowServiceImpl) Poll(ctx context.Context, platform model.Platform, req PollRequest) (string, error) {
	if _, err := model.Info(platform); err != nil {
		return "", err
	}
	if req.DeviceCode == "" {
		return "", fmt.Errorf("empty device_code: %w", errs.ErrInvalidInput)
	}

	s.mu.Lock()
	a := s.attempts[platform]
	if a == nil || a.da.DeviceCode != req.DeviceCode {
		s.mu.Unlock()
		return "", fmt.Errorf("no active attempt for this device code: %w", errs.ErrNotFound)
	}
	if req.ClientID != a.cfg.ClientID {
		s.mu.Unlock()
		return "", fmt.Errorf("client_id does not match the active attempt: %w", errs.ErrInvalidInput)
	}
	if req.Interval != a.interval {
		s.mu.Unlock()
		return "", fmt.Errorf("interval does not match the active attempt: %w", errs.ErrInvalidInput)
	}
	if a.polling {
		s.mu.Unlock()
		return "", fmt.Errorf("device code is already being polled: %w", errs.ErrAuthInProgress)
	}
	a.polling = true
	pollCtx, abort := context.WithCancel(ctx)
	a.abort = abort
	s.mu.Unlock()

	defer func() {
		abort()
		s.mu.Lock()
		a.polling = false
		a.abort = nil
		s.mu.Unlock()
	}()

	// The codes have a hard lifetime; bound the poll locally so expiry is
	// detected even if the provider keeps answering authorization_pending.
	exchangeCtx := pollCtx
	if !a.da.Expiry.IsZero() {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithDeadline(pollCtx, a.da.Expiry)
		defer cancel()
	}

	tok, err := s.ex.DeviceAccessToken(exchangeCtx, a.cfg, a.da)
	switch {
	case err == nil:
		s.clearAttempt(platform, a)
		if tok.AccessToken == "" {
			return "", fmt.Errorf("provider returned an empty access token: %w", errs.ErrBackendUnavailable)
		}
		if err := s.tokens.Save(ctx, platform, tok.AccessToken); err != nil {
			return "", err
		}
		s.bus.Publish(ctx, events.NewEvent(model.EventAuthSuccess, platform))
		return tok.AccessToken, nil

	case errors.Is(err, context.DeadlineExceeded):
		s.clearAttempt(platform, a)
		return "", fmt.Errorf("device code expired: %w", errs.ErrFlowExpired)

	case errors.Is(err, context.Canceled):
		// Cancel and a superseding Start clean up the attempt table
		// themselves; a disconnected caller leaves the attempt in place so
		// the client can poll again.
		return "", err

	default:
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "expired_token":
				s.clearAttempt(platform, a)
				return "", fmt.Errorf("device code expired: %w", errs.ErrFlowExpired)
			case "access_denied":
				s.clearAttempt(platform, a)
				return "", fmt.Errorf("user denied the request: %w", errs.ErrFlowDenied)
			}
		}
		// Transport-class failure: keep the attempt so the client can poll again.
		return "", fmt.Errorf("device token exchange for %s: %v: %w", platform, err, errs.ErrBackendUnavailable)
	}
}

// Cancel aborts the active attempt when deviceCode matches it. Cancelling
// an unknown or already-finished attempt succeeds.
func (s *FlowServiceImpl) Cancel(ctx context.Context, platform model.Platform, deviceCode string) error {
	if _, err := model.Info(platform); err != nil {
		return err
	}
	s.mu.Lock()
	a := s.attempts[platform]
	if a == nil || a.da.DeviceCode != deviceCode {
		s.mu.Unlock()
		return nil
	}
	delete(s.attempts, platform)
	abort := a.abort
	s.mu.Unlock()
	if abort != nil {
		abort()
	}
	return nil
}

// clearAttempt removes a from the table unless it was already superseded.
func (s *FlowServiceImpl) clearAttempt(platform model.Platform, a *attempt) {
	s.mu.Lock()
	if s.attempts[platform] == a {
		delete(s.attempts, platform)
	}
	s.mu.Unlock()
}
