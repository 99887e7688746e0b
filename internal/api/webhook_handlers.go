package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/provider"
	"github.com/dialcast/dialcast/internal/webhook"
)

// statusPayload is the JSON status callback shape used by the agent
// backend. Carrier backends post form-encoded fields instead.
type statusPayload struct {
	Status      string `json:"status"`
	DurationSec int    `json:"duration_sec"`
}

// verifyWebhookToken authenticates a provider callback with the per-call
// token from the query string.
func (s *Server) verifyWebhookToken(w http.ResponseWriter, r *http.Request) *webhook.Claims {
	claims, err := s.deps.Signer.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Warn("webhook token rejected", "error", err, "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid webhook token")
		return nil
	}
	return claims
}

// isJSONRequest reports whether the callback body is JSON rather than the
// carriers' form encoding.
func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// handleStatusWebhook applies a provider's terminal status report to the
// queue item the callback token names. Late or duplicate reports against
// an already-terminal item are acknowledged and dropped.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	claims := s.verifyWebhookToken(w, r)
	if claims == nil {
		return
	}

	var status string
	var duration int
	if isJSONRequest(r) {
		var payload statusPayload
		if errMsg := readJSON(r, &payload); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		status = payload.Status
		duration = payload.DurationSec
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		status = r.FormValue("CallStatus")
		duration, _ = strconv.Atoi(r.FormValue("CallDuration"))
	}

	callStatus := provider.CallStatus{Status: status, DurationSec: duration}
	if !callStatus.Terminal() {
		// Progress events carry no state we track.
		writeJSON(w, http.StatusOK, map[string]bool{"applied": false})
		return
	}

	local := dialer.MapProviderStatus(status, duration)
	moved, err := s.deps.Items.MarkTerminalFromCalling(r.Context(), claims.QueueItemID, local, duration)
	if err != nil {
		s.logger.Error("status webhook: transition failed", "error", err, "queue_item_id", claims.QueueItemID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !moved {
		s.logger.Info("status webhook on non-calling item",
			"queue_item_id", claims.QueueItemID,
			"status", local,
		)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"applied": moved})
}

// handleDTMFWebhook applies an in-call keypress. Carrier callbacks get a
// spoken-menu document back; the agent backend gets JSON.
func (s *Server) handleDTMFWebhook(w http.ResponseWriter, r *http.Request) {
	claims := s.verifyWebhookToken(w, r)
	if claims == nil {
		return
	}

	var digit string
	jsonBody := isJSONRequest(r)
	if jsonBody {
		var payload struct {
			Digit string `json:"digit"`
		}
		if errMsg := readJSON(r, &payload); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		digit = payload.Digit
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		digit = r.FormValue("Digits")
	}

	result, err := s.deps.DTMF.HandleDigit(r.Context(), claims.QueueItemID, digit)
	if err != nil {
		s.logger.Error("dtmf webhook: failed to handle digit", "error", err, "queue_item_id", claims.QueueItemID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if jsonBody {
		writeJSON(w, http.StatusOK, result)
		return
	}
	s.writeTwiML(w, r, claims, result)
}

// writeTwiML answers a carrier DTMF callback: replay re-serves the
// broadcast menu, every other outcome ends the call.
func (s *Server) writeTwiML(w http.ResponseWriter, r *http.Request, claims *webhook.Claims, result *dialer.DTMFResult) {
	w.Header().Set("Content-Type", "text/xml")

	if result.Replay {
		campaign, err := s.deps.Campaigns.GetByID(r.Context(), claims.CampaignID)
		if err == nil && campaign != nil && campaign.AudioURL != "" {
			doc, err := provider.BroadcastTwiML(campaign.AudioURL, r.URL.String())
			if err == nil {
				w.Write([]byte(doc)) //nolint:errcheck
				return
			}
			s.logger.Error("dtmf webhook: failed to render replay document", "error", err)
		}
	}

	w.Write([]byte(provider.HangupTwiML())) //nolint:errcheck
}
