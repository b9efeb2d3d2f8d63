package handler

import (
	"net/http"

	"chatrelay/internal/pkg/resp"
)

// HandleHealth reports liveness.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "chatrelay",
		})
	}
}

// HandleStats reports the current online and connection counts.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Manager.Stats())
	}
}
