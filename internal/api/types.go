// Package api defines the wire types shared by the agent's HTTP surface
// and its clients.
package api

import "time"

// SaveTokenRequest is the body of POST /api/v1/tokens/{platform}.
type SaveTokenRequest struct {
	Token string `json:"token"`
}

// PresenceResponse answers existence probes.
type PresenceResponse struct {
	Present bool `json:"present"`
}

// VerifyResponse is the body of POST /api/v1/tokens/{platform}/verify.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// OAuthConfigRequest is the body of PUT /api/v1/oauth/{platform}.
type OAuthConfigRequest struct {
	Grant        string `json:"grant"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// OAuthConfigResponse mirrors a stored configuration. The client secret
// never leaves the agent.
type OAuthConfigResponse struct {
	Platform  string    `json:"platform"`
	Grant     string    `json:"grant"`
	ClientID  string    `json:"client_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PollTokenRequest is the body of POST /api/v1/deviceauth/{platform}/poll.
// It echoes the attempt parameters so the agent can reject stale pollers.
type PollTokenRequest struct {
	DeviceCode string `json:"device_code"`
	ClientID   string `json:"client_id"`
	Interval   int    `json:"interval"`
}

// PollTokenResponse carries the access token once the user approved.
type PollTokenResponse struct {
	Token string `json:"token"`
}

// CancelRequest is the body of POST /api/v1/deviceauth/{platform}/cancel.
type CancelRequest struct {
	DeviceCode string `json:"device_code"`
}
