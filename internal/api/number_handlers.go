package api

import (
	"net/http"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// numberRequest is the JSON request body for creating/updating a pool number.
type numberRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Number   string `json:"number"`
	Provider string `json:"provider"`

	Active      *bool `json:"active"`
	SpamFlagged *bool `json:"spam_flagged"`
	Quarantined *bool `json:"quarantined"`

	DailyCap *int `json:"daily_cap"`
}

// numberResponse is the JSON response for a pool number.
type numberResponse struct {
	ID       int64  `json:"id"`
	OwnerID  int64  `json:"owner_id"`
	Number   string `json:"number"`
	Provider string `json:"provider"`

	Active          bool `json:"active"`
	SpamFlagged     bool `json:"spam_flagged"`
	Quarantined     bool `json:"quarantined"`
	TrunkAuthFailed bool `json:"trunk_auth_failed"`

	DailyCalls int    `json:"daily_calls"`
	DailyCap   int    `json:"daily_cap"`
	DailyDate  string `json:"daily_date,omitempty"`

	LastUsedAt string `json:"last_used_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toNumberResponse(n *models.PhoneNumber) numberResponse {
	resp := numberResponse{
		ID:              n.ID,
		OwnerID:         n.OwnerID,
		Number:          n.Number,
		Provider:        n.Provider,
		Active:          n.Active,
		SpamFlagged:     n.SpamFlagged,
		Quarantined:     n.Quarantined,
		TrunkAuthFailed: n.TrunkAuthFailed,
		DailyCalls:      n.DailyCalls,
		DailyCap:        n.DailyCap,
		DailyDate:       n.DailyDate,
		CreatedAt:       n.CreatedAt.Format(time.RFC3339),
	}
	if n.LastUsedAt != nil {
		resp.LastUsedAt = n.LastUsedAt.Format(time.RFC3339)
	}
	return resp
}

// handleListNumbers returns the owner's rotation pool.
func (s *Server) handleListNumbers(w http.ResponseWriter, r *http.Request) {
	numbers, err := s.deps.Numbers.List(r.Context(), ownerParam(r))
	if err != nil {
		s.logger.Error("list numbers: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]numberResponse, len(numbers))
	for i := range numbers {
		items[i] = toNumberResponse(&numbers[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateNumber adds a number to the rotation pool.
func (s *Server) handleCreateNumber(w http.ResponseWriter, r *http.Request) {
	var req numberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if !validE164(req.Number) {
		writeError(w, http.StatusBadRequest, "number must be E.164")
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}

	n := &models.PhoneNumber{
		OwnerID:  req.OwnerID,
		Number:   req.Number,
		Provider: req.Provider,
		Active:   true,
		DailyCap: 200,
	}
	if n.OwnerID == 0 {
		n.OwnerID = 1
	}
	if req.Active != nil {
		n.Active = *req.Active
	}
	if req.DailyCap != nil && *req.DailyCap > 0 {
		n.DailyCap = *req.DailyCap
	}

	if err := s.deps.Numbers.Create(r.Context(), n); err != nil {
		s.logger.Error("create number: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.deps.Numbers.GetByID(r.Context(), n.ID)
	if err != nil || created == nil {
		s.logger.Error("create number: failed to re-fetch", "error", err, "number_id", n.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toNumberResponse(created))
}

// handleUpdateNumber updates pool number flags and caps.
func (s *Server) handleUpdateNumber(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.deps.Numbers.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update number: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if n == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	var req numberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.Provider != "" {
		n.Provider = req.Provider
	}
	if req.Active != nil {
		n.Active = *req.Active
	}
	if req.SpamFlagged != nil {
		n.SpamFlagged = *req.SpamFlagged
	}
	if req.Quarantined != nil {
		n.Quarantined = *req.Quarantined
	}
	if req.DailyCap != nil && *req.DailyCap > 0 {
		n.DailyCap = *req.DailyCap
	}

	if err := s.deps.Numbers.Update(r.Context(), n); err != nil {
		s.logger.Error("update number: failed to update", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.deps.Numbers.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update number: failed to re-fetch", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toNumberResponse(updated))
}
