package api

import (
	"net/http"
	"time"
)

// dncEntryResponse is the JSON response for a do-not-call entry.
type dncEntryResponse struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	Number    string `json:"number"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

// handleListDNC returns the owner's do-not-call list.
func (s *Server) handleListDNC(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.DNC.List(r.Context(), ownerParam(r))
	if err != nil {
		s.logger.Error("list dnc: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]dncEntryResponse, len(entries))
	for i, e := range entries {
		items[i] = dncEntryResponse{
			ID:        e.ID,
			OwnerID:   e.OwnerID,
			Number:    e.Number,
			Source:    e.Source,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCheckDNC reports whether a number is suppressed for the owner.
func (s *Server) handleCheckDNC(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if !validE164(number) {
		writeError(w, http.StatusBadRequest, "number must be E.164")
		return
	}

	suppressed, err := s.deps.DNC.Exists(r.Context(), ownerParam(r), number)
	if err != nil {
		s.logger.Error("check dnc: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"suppressed": suppressed})
}
