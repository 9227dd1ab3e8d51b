// Package model defines domain entities shared by the vault client and the agent.
package model

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/castkeep/castkeep/internal/errs"
)

// Platform identifies a tracked streaming platform.
type Platform string

const (
	Twitch  Platform = "twitch"
	YouTube Platform = "youtube"
)

// GrantKind tags an OAuth client configuration with the grant it is valid for.
// The tag is explicit on the config rather than inferred from the platform.
type GrantKind string

const (
	// GrantDeviceCode is the device-authorization grant: client ID only,
	// a client secret is rejected.
	GrantDeviceCode GrantKind = "device_code"
	// GrantAuthCode is the authorization-code grant: client ID plus a
	// required client secret.
	GrantAuthCode GrantKind = "auth_code"
)

// PlatformInfo describes a platform's OAuth wiring.
type PlatformInfo struct {
	Platform    Platform
	Grant       GrantKind // expected grant kind for stored configs
	Endpoint    oauth2.Endpoint
	ValidateURL string // token validation endpoint, hit by the sweep
	Scopes      []string
}

var registry = map[Platform]PlatformInfo{
	Twitch: {
		Platform: Twitch,
		Grant:    GrantDeviceCode,
		Endpoint: oauth2.Endpoint{
			AuthURL:       "https://id.twitch.tv/oauth2/authorize",
			DeviceAuthURL: "https://id.twitch.tv/oauth2/device",
			TokenURL:      "https://id.twitch.tv/oauth2/token",
		},
		ValidateURL: "https://id.twitch.tv/oauth2/validate",
		Scopes:      []string{"channel:read:subscriptions", "moderator:read:followers"},
	},
	YouTube: {
		Platform: YouTube,
		Grant:    GrantAuthCode,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		ValidateURL: "https://oauth2.googleapis.com/tokeninfo",
		Scopes:      []string{"https://www.googleapis.com/auth/youtube.readonly"},
	},
}

// Platforms returns all tracked platforms in stable order.
func Platforms() []Platform {
	return []Platform{Twitch, YouTube}
}

// Info returns the registry entry for a platform.
func Info(p Platform) (PlatformInfo, error) {
	info, ok := registry[p]
	if !ok {
		return PlatformInfo{}, fmt.Errorf("platform %q: %w", p, errs.ErrNotFound)
	}
	return info, nil
}

// ParsePlatform validates a wire/CLI platform string.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if _, ok := registry[p]; !ok {
		return "", fmt.Errorf("platform %q: %w", s, errs.ErrNotFound)
	}
	return p, nil
}

// OAuthConfig is a per-platform OAuth client configuration.
// Grant carries the variant tag; Validate enforces the variant invariants.
type OAuthConfig struct {
	Platform     Platform  `json:"platform"`
	Grant        GrantKind `json:"grant"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the variant invariants and the platform's expected grant.
func (c OAuthConfig) Validate() error {
	info, err := Info(c.Platform)
	if err != nil {
		return err
	}
	if c.ClientID == "" {
		return fmt.Errorf("oauth config %s: empty client_id: %w", c.Platform, errs.ErrInvalidInput)
	}
	switch c.Grant {
	case GrantDeviceCode:
		if c.ClientSecret != "" {
			return fmt.Errorf("oauth config %s: device-code grant takes no client secret: %w",
				c.Platform, errs.ErrInvalidInput)
		}
	case GrantAuthCode:
		if c.ClientSecret == "" {
			return fmt.Errorf("oauth config %s: auth-code grant requires a client secret: %w",
				c.Platform, errs.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("oauth config %s: unknown grant %q: %w", c.Platform, c.Grant, errs.ErrInvalidInput)
	}
	if c.Grant != info.Grant {
		return fmt.Errorf("oauth config %s: grant %q, platform expects %q: %w",
			c.Platform, c.Grant, info.Grant, errs.ErrUnsupportedGrant)
	}
	return nil
}

// DeviceAuthorization is one device-authorization attempt as surfaced to the user.
type DeviceAuthorization struct {
	Platform                Platform `json:"platform"`
	DeviceCode              string   `json:"device_code"`
	UserCode                string   `json:"user_code"`
	VerificationURI         string   `json:"verification_uri"`
	VerificationURIComplete string   `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int      `json:"expires_in"` // seconds until the codes expire
	Interval                int      `json:"interval"`   // minimum poll spacing, seconds
}

// StatusSnapshot answers "does a secret/config of this kind exist" per platform.
type StatusSnapshot struct {
	Tokens       map[Platform]bool `json:"tokens"`
	OAuthConfigs map[Platform]bool `json:"oauth_configs"`
}

// EventType names a bridge notification channel.
type EventType string

const (
	EventSaveToken    EventType = "vault:save-token"
	EventDeleteToken  EventType = "vault:delete-token"
	EventSaveSecret   EventType = "vault:save-secret"
	EventDeleteSecret EventType = "vault:delete-secret"
	EventAuthSuccess  EventType = "auth:success"
	EventAuthRequired EventType = "auth:required"
)

// Event is one bridge notification. Delivery is at-most-once and unacknowledged;
// application must be idempotent.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Platform Platform  `json:"platform"`
	Token    string    `json:"token,omitempty"`
	Secret   string    `json:"secret,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
