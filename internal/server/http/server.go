// Package httpserver exposes the agent's HTTP and WebSocket API handlers.
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/api"
	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
	"github.com/castkeep/castkeep/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	tokens  service.TokenService
	configs service.ConfigService
	flows   service.FlowService
	hub     *Hub
	signKey []byte
	log     *zap.Logger
}

// New constructs the handler set with injected services.
func New(tokens service.TokenService, configs service.ConfigService, flows service.FlowService, hub *Hub, signKey []byte, log *zap.Logger) *Server {
	return &Server{tokens: tokens, configs: configs, flows: flows, hub: hub, signKey: signKey, log: log}
}

// Router assembles the route tree with middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(RequestLogging(s.log))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(s.signKey))

		r.Route("/tokens/{platform}", func(r chi.Router) {
			r.Post("/", s.handleSaveToken)
			r.Get("/", s.handleHasToken)
			r.Delete("/", s.handleDeleteToken)
			r.Post("/verify", s.handleVerifyToken)
		})

		r.Route("/oauth/{platform}", func(r chi.Router) {
			r.Put("/", s.handleSaveOAuthConfig)
			r.Get("/", s.handleGetOAuthConfig)
			r.Delete("/", s.handleDeleteOAuthConfig)
			r.Get("/exists", s.handleHasOAuthConfig)
		})

		r.Route("/deviceauth/{platform}", func(r chi.Router) {
			r.Post("/", s.handleStartDeviceAuth)
			r.Post("/poll", s.handlePollDeviceToken)
			r.Post("/cancel", s.handleCancelDeviceAuth)
		})

		r.Get("/events", s.hub.HandleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tokens ---

func (s *Server) handleSaveToken(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req api.SaveTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.tokens.Save(r.Context(), platform, req.Token); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHasToken(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	present, err := s.tokens.Has(r.Context(), platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.PresenceResponse{Present: present})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.tokens.Delete(r.Context(), platform); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	valid, err := s.tokens.Verify(r.Context(), platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.VerifyResponse{Valid: valid})
}

// --- OAuth configs ---

func (s *Server) handleSaveOAuthConfig(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req api.OAuthConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	cfg := &model.OAuthConfig{
		Platform:     platform,
		Grant:        model.GrantKind(req.Grant),
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	}
	if err := s.configs.Save(r.Context(), cfg); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOAuthConfig(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	cfg, err := s.configs.Get(r.Context(), platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.OAuthConfigResponse{
		Platform:  string(cfg.Platform),
		Grant:     string(cfg.Grant),
		ClientID:  cfg.ClientID,
		UpdatedAt: cfg.UpdatedAt,
	})
}

func (s *Server) handleDeleteOAuthConfig(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.configs.Delete(r.Context(), platform); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHasOAuthConfig(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	present, err := s.configs.Exists(r.Context(), platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.PresenceResponse{Present: present})
}

// --- Device authorization ---

func (s *Server) handleStartDeviceAuth(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	da, err := s.flows.Start(r.Context(), platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, da)
}

func (s *Server) handlePollDeviceToken(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req api.PollTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	token, err := s.flows.Poll(r.Context(), platform, service.PollRequest{
		DeviceCode: req.DeviceCode,
		ClientID:   req.ClientID,
		Interval:   req.Interval,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, api.PollTokenResponse{Token: token})
}

func (s *Server) handleCancelDeviceAuth(w http.ResponseWriter, r *http.Request) {
	platform, err := platformParam(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req api.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.flows.Cancel(r.Context(), platform, req.DeviceCode); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func platformParam(r *http.Request) (model.Platform, error) {
	return model.ParsePlatform(chi.URLParam(r, "platform"))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %w", errs.ErrInvalidInput)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, code := api.Status(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, api.ErrorBody{Error: api.ErrorDetail{Code: code, Message: err.Error()}})
}
