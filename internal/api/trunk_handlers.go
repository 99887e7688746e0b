package api

import (
	"net/http"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// trunkRequest is the JSON request body for creating/updating a trunk.
// Password is write-only; it is never echoed back.
type trunkRequest struct {
	OwnerID   int64  `json:"owner_id"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	Active    *bool  `json:"active"`
	IsDefault *bool  `json:"is_default"`
	Host      string `json:"host"`
	Port      *int   `json:"port"`
	Transport string `json:"transport"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TrunkSID  string `json:"trunk_sid"`
}

// trunkResponse is the JSON response for a trunk config.
type trunkResponse struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	IsDefault bool   `json:"is_default"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Transport string `json:"transport"`
	Username  string `json:"username"`
	TrunkSID  string `json:"trunk_sid,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toTrunkResponse(t *models.SipTrunkConfig) trunkResponse {
	return trunkResponse{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		Provider:  t.Provider,
		Name:      t.Name,
		Active:    t.Active,
		IsDefault: t.IsDefault,
		Host:      t.Host,
		Port:      t.Port,
		Transport: t.Transport,
		Username:  t.Username,
		TrunkSID:  t.TrunkSID,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}

// encryptPassword encrypts a trunk password at rest when an encryption
// key is configured.
func (s *Server) encryptPassword(plaintext string) (string, error) {
	if s.deps.Encryptor == nil || plaintext == "" {
		return plaintext, nil
	}
	return s.deps.Encryptor.Encrypt(plaintext)
}

// handleListTrunks returns all trunk configs for an owner.
func (s *Server) handleListTrunks(w http.ResponseWriter, r *http.Request) {
	trunks, err := s.deps.Trunks.List(r.Context(), ownerParam(r))
	if err != nil {
		s.logger.Error("list trunks: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]trunkResponse, len(trunks))
	for i := range trunks {
		items[i] = toTrunkResponse(&trunks[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateTrunk creates a trunk config.
func (s *Server) handleCreateTrunk(w http.ResponseWriter, r *http.Request) {
	var req trunkRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Provider == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "provider and host are required")
		return
	}

	password, err := s.encryptPassword(req.Password)
	if err != nil {
		s.logger.Error("create trunk: failed to encrypt password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	t := &models.SipTrunkConfig{
		OwnerID:   req.OwnerID,
		Provider:  req.Provider,
		Name:      req.Name,
		Active:    true,
		Host:      req.Host,
		Port:      5060,
		Transport: "udp",
		Username:  req.Username,
		Password:  password,
		TrunkSID:  req.TrunkSID,
	}
	if t.OwnerID == 0 {
		t.OwnerID = 1
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if req.IsDefault != nil {
		t.IsDefault = *req.IsDefault
	}
	if req.Port != nil && *req.Port > 0 {
		t.Port = *req.Port
	}
	if req.Transport != "" {
		t.Transport = req.Transport
	}

	if err := s.deps.Trunks.Create(r.Context(), t); err != nil {
		s.logger.Error("create trunk: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.deps.Trunks.GetByID(r.Context(), t.ID)
	if err != nil || created == nil {
		s.logger.Error("create trunk: failed to re-fetch", "error", err, "trunk_id", t.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toTrunkResponse(created))
}

// handleUpdateTrunk updates a trunk config. An empty password leaves the
// stored one unchanged.
func (s *Server) handleUpdateTrunk(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.deps.Trunks.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update trunk: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "trunk not found")
		return
	}

	var req trunkRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.Provider != "" {
		t.Provider = req.Provider
	}
	if req.Name != "" {
		t.Name = req.Name
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if req.IsDefault != nil {
		t.IsDefault = *req.IsDefault
	}
	if req.Host != "" {
		t.Host = req.Host
	}
	if req.Port != nil && *req.Port > 0 {
		t.Port = *req.Port
	}
	if req.Transport != "" {
		t.Transport = req.Transport
	}
	if req.Username != "" {
		t.Username = req.Username
	}
	if req.Password != "" {
		password, err := s.encryptPassword(req.Password)
		if err != nil {
			s.logger.Error("update trunk: failed to encrypt password", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		t.Password = password
	}
	if req.TrunkSID != "" {
		t.TrunkSID = req.TrunkSID
	}

	if err := s.deps.Trunks.Update(r.Context(), t); err != nil {
		s.logger.Error("update trunk: failed to update", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.deps.Trunks.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update trunk: failed to re-fetch", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toTrunkResponse(updated))
}

// handleDeleteTrunk removes a trunk config.
func (s *Server) handleDeleteTrunk(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.deps.Trunks.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("delete trunk: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "trunk not found")
		return
	}

	if err := s.deps.Trunks.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete trunk: failed to delete", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
