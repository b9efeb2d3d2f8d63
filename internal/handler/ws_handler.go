/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

HandleWebSocket rate limits the handshake per client IP, upgrades the connection, and
hands it to the chat Manager for the rest of its lifetime.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/limiter"
	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		anonIP := logx.AnonymizeIP(ip)

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", anonIP)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		if !deps.Manager.Accepting() {
			logx.Info("WebSocket connection rejected: Server shutting down.", "ip", anonIP)
			resp.RespondError(w, r, errs.NewError(errs.ErrServerShuttingDown))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an HTTP error response.
			logx.Warn("Failed to upgrade connection to WebSocket", "ip", anonIP, "error", err.Error())
			return
		}

		logx.Debug("WebSocket connection established", "ip", anonIP)

		if err := deps.Manager.Serve(conn); err != nil {
			if errs.Is(err, errs.ErrServerShuttingDown) {
				logx.Info("WebSocket connection dropped: Server shutting down.", "ip", anonIP)
			} else {
				logx.Warn("WebSocket connection dropped", "ip", anonIP, "error", err.Error())
			}
			if closeErr := conn.Close(); closeErr != nil {
				logx.Debug("Connection close error", "error", closeErr.Error())
			}
		}
	}
}
