// Package middleware holds the HTTP middleware of the admin API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody mirrors the API envelope for responses written before a handler
// runs.
type errorBody struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: msg}); err != nil {
		slog.Error("failed to encode middleware error", "error", err)
	}
}
