package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

type fakeExchanger struct {
	da    *oauth2.DeviceAuthResponse
	daErr error

	tok     *oauth2.Token
	tokErr  error
	block   bool // wait for ctx to end instead of answering
	entered chan struct{}
}

var _ Exchanger = (*fakeExchanger)(nil)

func (f *fakeExchanger) DeviceAuth(_ context.Context, _ *oauth2.Config) (*oauth2.DeviceAuthResponse, error) {
	if f.daErr != nil {
		return nil, f.daErr
	}
	return f.da, nil
}

func (f *fakeExchanger) DeviceAccessToken(ctx context.Context, _ *oauth2.Config, _ *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.tok, f.tokErr
}

func newDeviceAuth(code string, expiry time.Time) *oauth2.DeviceAuthResponse {
	return &oauth2.DeviceAuthResponse{
		DeviceCode:      code,
		UserCode:        "ABCD-1234",
		VerificationURI: "https://id.twitch.tv/activate",
		Expiry:          expiry,
	}
}

func newTwitchFlow(t *testing.T, ex *fakeExchanger) (*FlowServiceImpl, *fakeBus, *TokenServiceImpl) {
	t.Helper()
	repo := &fakeConfigRepo{}
	cfg := &model.OAuthConfig{Platform: model.Twitch, Grant: model.GrantDeviceCode, ClientID: "cid"}
	if err := repo.Put(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	bus := &fakeBus{}
	tokens := NewTokenService(&fakeVerifier{}, bus)
	return NewFlowService(repo, tokens, bus, ex), bus, tokens
}

func TestFlows_Start_Preconditions(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{da: newDeviceAuth("dev-1", time.Now().Add(10*time.Minute))}
	bus := &fakeBus{}
	tokens := NewTokenService(&fakeVerifier{}, bus)
	s := NewFlowService(&fakeConfigRepo{}, tokens, bus, ex)

	if _, err := s.Start(context.Background(), "vimeo"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown platform, got %v", err)
	}
	if _, err := s.Start(context.Background(), model.YouTube); !errors.Is(err, errs.ErrUnsupportedGrant) {
		t.Fatalf("want ErrUnsupportedGrant for auth-code platform, got %v", err)
	}
	if _, err := s.Start(context.Background(), model.Twitch); !errors.Is(err, errs.ErrNoOAuthConfig) {
		t.Fatalf("want ErrNoOAuthConfig without a stored config, got %v", err)
	}
}

func TestFlows_Start_SurfacesCodes(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{da: newDeviceAuth("dev-1", time.Now().Add(10*time.Minute))}
	s, _, _ := newTwitchFlow(t, ex)

	da, err := s.Start(context.Background(), model.Twitch)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if da.DeviceCode != "dev-1" || da.UserCode != "ABCD-1234" || da.VerificationURI == "" {
		t.Fatalf("bad authorization: %+v", da)
	}
	if da.Interval != defaultPollInterval {
		t.Fatalf("want fallback interval %d, got %d", defaultPollInterval, da.Interval)
	}
	if da.ExpiresIn <= 0 || da.ExpiresIn > 600 {
		t.Fatalf("implausible expires_in %d", da.ExpiresIn)
	}

	ex.daErr = errors.New("provider down")
	if _, err := s.Start(context.Background(), model.Twitch); !errors.Is(err, errs.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
}

func TestFlows_Poll_ValidatesRequest(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:  newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		tok: &oauth2.Token{AccessToken: "tok-1"},
	}
	s, _, _ := newTwitchFlow(t, ex)
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.Poll(context.Background(), model.Twitch, PollRequest{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for empty device code, got %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, PollRequest{DeviceCode: "other", ClientID: "cid", Interval: 5}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for stale device code, got %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, PollRequest{DeviceCode: "dev-1", ClientID: "nope", Interval: 5}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for client_id mismatch, got %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 9}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for interval mismatch, got %v", err)
	}
}

func TestFlows_Poll_SuccessSavesBeforeAnnouncing(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:  newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		tok: &oauth2.Token{AccessToken: "tok-1"},
	}
	s, bus, tokens := newTwitchFlow(t, ex)
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}
	got, err := s.Poll(context.Background(), model.Twitch, req)
	if err != nil || got != "tok-1" {
		t.Fatalf("Poll = (%q, %v)", got, err)
	}
	if has, _ := tokens.Has(context.Background(), model.Twitch); !has {
		t.Fatalf("token not mirrored after success")
	}
	types := bus.types()
	if len(types) != 2 || types[0] != model.EventSaveToken || types[1] != model.EventAuthSuccess {
		t.Fatalf("want save announced before success, got %v", types)
	}

	// The attempt resolved; its codes no longer match anything.
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound after resolution, got %v", err)
	}
}

func TestFlows_Poll_TerminalProviderErrors(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:     newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		tokErr: &oauth2.RetrieveError{ErrorCode: "access_denied"},
	}
	s, _, _ := newTwitchFlow(t, ex)
	req := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}

	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrFlowDenied) {
		t.Fatalf("want ErrFlowDenied, got %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("denied attempt must be cleared, got %v", err)
	}

	ex.tokErr = &oauth2.RetrieveError{ErrorCode: "expired_token"}
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrFlowExpired) {
		t.Fatalf("want ErrFlowExpired, got %v", err)
	}
}

func TestFlows_Poll_TransportErrorKeepsAttempt(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:     newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		tokErr: errors.New("connection reset"),
	}
	s, _, _ := newTwitchFlow(t, ex)
	req := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}

	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}

	// The attempt survives a transport failure and the next poll can win.
	ex.tokErr = nil
	ex.tok = &oauth2.Token{AccessToken: "tok-1"}
	if got, err := s.Poll(context.Background(), model.Twitch, req); err != nil || got != "tok-1" {
		t.Fatalf("re-poll = (%q, %v)", got, err)
	}
}

func TestFlows_Poll_LocalExpiry(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:    newDeviceAuth("dev-1", time.Now().Add(50*time.Millisecond)),
		block: true,
	}
	s, _, _ := newTwitchFlow(t, ex)
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrFlowExpired) {
		t.Fatalf("want ErrFlowExpired at code expiry, got %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expired attempt must be cleared, got %v", err)
	}
}

func TestFlows_Poll_SecondPollerRejected(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:      newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		block:   true,
		entered: make(chan struct{}, 1),
	}
	s, _, _ := newTwitchFlow(t, ex)
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}
	pollErr := make(chan error, 1)
	go func() {
		_, err := s.Poll(context.Background(), model.Twitch, req)
		pollErr <- err
	}()
	<-ex.entered

	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrAuthInProgress) {
		t.Fatalf("want ErrAuthInProgress for concurrent poll, got %v", err)
	}

	if err := s.Cancel(context.Background(), model.Twitch, "dev-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := <-pollErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled poll returned %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("cancelled attempt must be cleared, got %v", err)
	}
}

func TestFlows_Start_SupersedesActivePoll(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{
		da:      newDeviceAuth("dev-1", time.Now().Add(10*time.Minute)),
		block:   true,
		entered: make(chan struct{}, 1),
	}
	s, _, _ := newTwitchFlow(t, ex)
	if _, err := s.Start(context.Background(), model.Twitch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	oldReq := PollRequest{DeviceCode: "dev-1", ClientID: "cid", Interval: 5}
	pollErr := make(chan error, 1)
	go func() {
		_, err := s.Poll(context.Background(), model.Twitch, oldReq)
		pollErr <- err
	}()
	<-ex.entered

	ex.da = newDeviceAuth("dev-2", time.Now().Add(10*time.Minute))
	da, err := s.Start(context.Background(), model.Twitch)
	if err != nil {
		t.Fatalf("superseding Start: %v", err)
	}
	if da.DeviceCode != "dev-2" {
		t.Fatalf("want fresh codes, got %+v", da)
	}

	if err := <-pollErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("superseded poll returned %v", err)
	}
	if _, err := s.Poll(context.Background(), model.Twitch, oldReq); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("old codes must stop matching, got %v", err)
	}
}

func TestFlows_Cancel_UnknownIsNoop(t *testing.T) {
	t.Parallel()
	ex := &fakeExchanger{da: newDeviceAuth("dev-1", time.Now().Add(10*time.Minute))}
	s, _, _ := newTwitchFlow(t, ex)

	if err := s.Cancel(context.Background(), "vimeo", "dev-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown platform, got %v", err)
	}
	if err := s.Cancel(context.Background(), model.Twitch, "never-issued"); err != nil {
		t.Fatalf("cancel of unknown code: %v", err)
	}
}
