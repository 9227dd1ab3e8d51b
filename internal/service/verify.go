package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// HTTPVerifier validates tokens against provider endpoints. Requests are
// throttled through a shared limiter so a sweep over many tokens cannot
// hammer the providers.
type HTTPVerifier struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPVerifier builds a verifier issuing at most ratePerSec requests
// with the given burst.
func NewHTTPVerifier(ratePerSec float64, burst int) *HTTPVerifier {
	return &HTTPVerifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Verify issues the platform's validation request. 2xx means valid; 400
// and 401 mean definitively rejected (Google answers 400 for bad tokens,
// Twitch answers 401); anything else is a transport-class failure.
func (v *HTTPVerifier) Verify(ctx context.Context, info model.PlatformInfo, token string) (bool, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return false, err
	}
	req, err := v.buildRequest(ctx, info, token)
	if err != nil {
		return false, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("validate %s: %v: %w", info.Platform, err, errs.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return false, nil
	default:
		return false, fmt.Errorf("validate %s: unexpected status %d: %w",
			info.Platform, resp.StatusCode, errs.ErrBackendUnavailable)
	}
}

func (v *HTTPVerifier) buildRequest(ctx context.Context, info model.PlatformInfo, token string) (*http.Request, error) {
	switch info.Platform {
	case model.Twitch:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.ValidateURL, nil)
		if err != nil {
			return nil, err
		}
		// Twitch's validate endpoint wants the OAuth scheme, not Bearer.
		req.Header.Set("Authorization", "OAuth "+token)
		return req, nil
	default:
		// Google-style tokeninfo: the token rides in the query string.
		u, err := url.Parse(info.ValidateURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}
}
