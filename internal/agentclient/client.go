// Package agentclient is the typed HTTP client for the castkeepd agent.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/castkeep/castkeep/internal/api"
	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// Client talks to a castkeepd instance. Every request carries a
// short-lived bearer token minted from the shared key, so a Client can
// outlive any single token.
type Client struct {
	base    string
	authKey []byte
	http    *http.Client
}

// New builds a client for addr ("host:port" or a full http URL).
// No client-level timeout: device-auth polls block until the user acts,
// so deadlines belong to the caller's context.
func New(addr string, authKey []byte) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		authKey: authKey,
		http:    &http.Client{},
	}
}

// Ping checks the agent is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// SaveToken pushes an access token into the agent's mirror.
func (c *Client) SaveToken(ctx context.Context, platform model.Platform, token string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tokens/"+string(platform),
		api.SaveTokenRequest{Token: token}, nil)
}

// HasToken reports whether the agent mirrors a token for platform.
func (c *Client) HasToken(ctx context.Context, platform model.Platform) (bool, error) {
	var out api.PresenceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tokens/"+string(platform), nil, &out); err != nil {
		return false, err
	}
	return out.Present, nil
}

// DeleteToken removes the mirrored token and fans the delete out.
func (c *Client) DeleteToken(ctx context.Context, platform model.Platform) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tokens/"+string(platform), nil, nil)
}

// VerifyToken asks the agent to check the mirrored token against the
// platform's validation endpoint.
func (c *Client) VerifyToken(ctx context.Context, platform model.Platform) (bool, error) {
	var out api.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tokens/"+string(platform)+"/verify", nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// SaveOAuthConfig stores an OAuth client configuration on the agent.
func (c *Client) SaveOAuthConfig(ctx context.Context, platform model.Platform, req api.OAuthConfigRequest) error {
	return c.do(ctx, http.MethodPut, "/api/v1/oauth/"+string(platform), req, nil)
}

// OAuthConfig fetches the stored configuration, secret redacted.
func (c *Client) OAuthConfig(ctx context.Context, platform model.Platform) (*api.OAuthConfigResponse, error) {
	var out api.OAuthConfigResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/oauth/"+string(platform), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HasOAuthConfig reports whether a configuration exists for platform.
func (c *Client) HasOAuthConfig(ctx context.Context, platform model.Platform) (bool, error) {
	var out api.PresenceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/oauth/"+string(platform)+"/exists", nil, &out); err != nil {
		return false, err
	}
	return out.Present, nil
}

// DeleteOAuthConfig removes the stored configuration.
func (c *Client) DeleteOAuthConfig(ctx context.Context, platform model.Platform) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/oauth/"+string(platform), nil, nil)
}

// StartDeviceAuth begins a device-authorization attempt on the agent.
func (c *Client) StartDeviceAuth(ctx context.Context, platform model.Platform) (*model.DeviceAuthorization, error) {
	var out model.DeviceAuthorization
	if err := c.do(ctx, http.MethodPost, "/api/v1/deviceauth/"+string(platform), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollDeviceToken blocks until the attempt resolves or ctx ends.
func (c *Client) PollDeviceToken(ctx context.Context, platform model.Platform, req api.PollTokenRequest) (string, error) {
	var out api.PollTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/deviceauth/"+string(platform)+"/poll", req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// CancelDeviceAuth abandons the attempt identified by deviceCode.
func (c *Client) CancelDeviceAuth(ctx context.Context, platform model.Platform, deviceCode string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/deviceauth/"+string(platform)+"/cancel",
		api.CancelRequest{DeviceCode: deviceCode}, nil)
}

// EventsURL is the WebSocket endpoint for the agent's event stream.
func (c *Client) EventsURL() string {
	u := c.base + "/api/v1/events"
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// BearerHeader mints a fresh token for out-of-band dials (the event
// stream) that cannot go through do.
func (c *Client) BearerHeader() (http.Header, error) {
	tok, err := api.MintToken(c.authKey)
	if err != nil {
		return nil, err
	}
	return http.Header{"Authorization": {"Bearer " + tok}}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	tok, err := api.MintToken(c.authKey)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("agent request: %v: %w", err, errs.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode agent response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body api.ErrorBody
	code, msg := "", http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil && body.Error.Code != "" {
		code = body.Error.Code
		if body.Error.Message != "" {
			msg = body.Error.Message
		}
	}
	return fmt.Errorf("%s: %w", msg, api.SentinelFor(resp.StatusCode, code))
}
