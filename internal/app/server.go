package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/handlers"
	"wechat-gateway/internal/ratelimit"
	"wechat-gateway/internal/server"
)

// RunServer builds the router and the HTTP server serving it. A nil messages
// handler greets new followers with the configured welcome message.
func (app *App) RunServer(messages handlers.MessageHandler) (*server.Server, http.Handler, error) {
	h := handlers.New(app.Verifier, messages, app.Session, app.Store, app.Config, logging.GetGlobalLogger()).
		WithStateSigner(app.States).
		WithBreakerStats(app.Breakers.AllStats)

	var limiter *ratelimit.Limiter
	if app.Config.OAuthRateLimit > 0 {
		var err error
		limiter, err = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: app.Config.OAuthRateLimit,
			BurstSize:         app.Config.OAuthRateBurst,
		})
		if err != nil {
			return nil, nil, err
		}
		app.Logger.Info("Rate Limiting: Enabled",
			logging.Field{Key: "requests_per_second", Value: app.Config.OAuthRateLimit},
			logging.Field{Key: "burst", Value: app.Config.OAuthRateBurst},
		)
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, limiter)

	srv := server.New(router, app.Config.Port, app.Config.TLSCert, app.Config.TLSKey, logging.GetGlobalLogger())
	return srv, router, nil
}
