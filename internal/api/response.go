package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope wraps every JSON payload the API returns. Success responses
// carry data, failures carry a user-facing error message.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON sends a success envelope.
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

// writeError sends a failure envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}

// writeEnvelope marshals before touching the ResponseWriter, so an
// encoding failure still yields a clean 500 instead of a truncated body
// under the original status.
func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		slog.Error("encoding response envelope", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("writing response body", "error", err)
	}
}
