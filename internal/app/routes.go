package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"wechat-gateway/internal/handlers"
	"wechat-gateway/internal/middleware"
	"wechat-gateway/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application. A nil
// rateLimiter leaves the OAuth routes unthrottled.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, rateLimiter *ratelimit.Limiter) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Webhook endpoint, authenticated by signature
	router.HandleFunc("/wechat", h.HandleHandshake).Methods("GET")
	router.HandleFunc("/wechat", h.HandleDelivery).Methods("POST")

	// User authorization
	oauth := router.PathPrefix("/oauth").Subrouter()
	if rateLimiter != nil {
		oauth.Use(rateLimiter.HTTPMiddleware(ratelimit.IPKey))
	}
	oauth.HandleFunc("/authorize", h.Authorize).Methods("GET")
	oauth.HandleFunc("/callback", h.OAuthCallback).Methods("GET")
	oauth.HandleFunc("/users/{openid}", h.GetUserProfile).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
}
