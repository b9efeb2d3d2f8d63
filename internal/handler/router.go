/*
Package handler provides the HTTP handlers and routing setup for the relay server.

This file defines the main Router, applying logging, CORS and recovery middleware, the
per-IP limits on WebSocket handshakes and on the stats API, and the optional static
asset mount.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/limiter"
	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/resp"
)

// newUpgrader builds the WebSocket upgrader. Outside development only origins listed in
// the configuration may connect.
func newUpgrader(deps *AppDeps) websocket.Upgrader {
	allowedOrigins := make(map[string]struct{}, len(deps.Config.AllowedOrigins))
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			customErr := errs.NewError(errs.ErrInvalidParams)
			if status == http.StatusForbidden {
				customErr = errs.NewError(errs.ErrOriginNotAllowed, r.Header.Get("Origin"))
			}
			customErr.Status = status

			logx.Debug("WebSocket handshake failed", "status", status, "reason", reason.Error())
			resp.RespondError(w, r, customErr)
		},
	}
}

// Router sets up the HTTP routing table. ctx bounds the lifetime of background helpers
// such as the rate limiter cleanup.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	joinLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.JoinRate), deps.Config.JoinBurst)
	apiLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.APIRate), deps.Config.APIBurst)

	r := chi.NewRouter()

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth())
	r.With(apiLimiter.Middleware).Get("/api/stats", HandleStats(deps))
	r.Get("/ws", HandleWebSocket(newUpgrader(deps), joinLimiter, deps))

	if dir := deps.Config.StaticDir; dir != "" {
		logx.Info("Serving static assets", "dir", dir)
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}
