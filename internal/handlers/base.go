package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"wechat-gateway/internal/circuitbreaker"
	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/config"
	"wechat-gateway/internal/oauth2"
	"wechat-gateway/internal/signature"
)

// Handlers serves the webhook, OAuth and health endpoints
type Handlers struct {
	verifier *signature.Verifier
	messages MessageHandler
	session  oauth2.Session
	store    cache.CredentialStore
	config   *config.Config
	logger   logging.Logger

	states       *oauth2.StateSigner
	breakerStats func() []circuitbreaker.Stats
}

// New creates the HTTP handlers. A nil messages handler falls back to
// DefaultMessageHandler with the configured welcome message.
func New(verifier *signature.Verifier, messages MessageHandler, session oauth2.Session, store cache.CredentialStore, cfg *config.Config, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if messages == nil {
		messages = &DefaultMessageHandler{WelcomeMessage: cfg.WelcomeMessage}
	}

	return &Handlers{
		verifier: verifier,
		messages: messages,
		session:  session,
		store:    store,
		config:   cfg,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
}

// WithStateSigner enables the OAuth redirect flow. Authorize binds the state
// to the browser with a signed cookie and OAuthCallback requires it back.
func (h *Handlers) WithStateSigner(states *oauth2.StateSigner) *Handlers {
	h.states = states
	return h
}

// WithBreakerStats makes HealthCheck report the platform circuit breakers
func (h *Handlers) WithBreakerStats(stats func() []circuitbreaker.Stats) *Handlers {
	h.breakerStats = stats
	return h
}

// HealthCheck reports whether the credential store is reachable. An open
// circuit breaker marks the gateway degraded without failing the check.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if checker, ok := h.store.(cache.HealthChecker); ok {
		if err := checker.Health(r.Context()); err != nil {
			h.sendJSONError(w, r, err, "Credential store health check failed", "Credential store unhealthy", http.StatusServiceUnavailable)
			return
		}
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	if h.breakerStats != nil {
		stats := h.breakerStats()
		for _, s := range stats {
			if s.State != circuitbreaker.StateClosed.String() {
				response["status"] = "degraded"
				break
			}
		}
		response["breakers"] = stats
	}

	h.sendJSONResponse(w, response)
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendJSONError logs logMsg with err and answers with userMsg. The status
// comes from the error type when status is zero.
func (h *Handlers) sendJSONError(w http.ResponseWriter, r *http.Request, err error, logMsg, userMsg string, status int) {
	if status == 0 {
		status = statusForError(err)
	}

	logger := h.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error(logMsg, err, logging.Int("status", status))
	} else {
		logger.Warn(logMsg, logging.Err(err), logging.Int("status", status))
	}

	body := map[string]interface{}{"error": userMsg}
	if errType := errors.GetType(err); errType != "" {
		body["type"] = errType
	}
	if code, ok := errors.PlatformCode(err); ok {
		body["errcode"] = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForError maps an error type onto the HTTP status returned to clients
func statusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeSignature:
		return http.StatusUnauthorized
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeAccessTokenNotFound, errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeRemoteAPI, errors.ErrTypeDecode, errors.ErrTypeConnection, errors.ErrTypeTokenUnavailable:
		return http.StatusBadGateway
	case errors.ErrTypeCacheUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
