package api

import (
	"net/http"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/dialer"
)

// campaignRequest is the JSON request body for creating/updating a campaign.
type campaignRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`

	CallWindowStart *int `json:"call_window_start"`
	CallWindowEnd   *int `json:"call_window_end"`
	Pace            *int `json:"pace"`

	CallerIDMode  string `json:"caller_id_mode"`
	FixedCallerID string `json:"fixed_caller_id"`
	AudioURL      string `json:"audio_url"`
	AgentScriptID string `json:"agent_script_id"`

	LocalPresence   bool `json:"local_presence"`
	NumberRotation  bool `json:"number_rotation"`
	AMDEnabled      bool `json:"amd_enabled"`
	SipTrunkEnabled bool `json:"sip_trunk_enabled"`

	MaxAttempts *int   `json:"max_attempts"`
	DigitMap    string `json:"digit_map"`

	CallbackDelayMinutes *int `json:"callback_delay_minutes"`
	ReminderLeadMinutes  *int `json:"reminder_lead_minutes"`
}

// campaignResponse is the JSON response for a single campaign.
type campaignResponse struct {
	ID       int64  `json:"id"`
	OwnerID  int64  `json:"owner_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Timezone string `json:"timezone"`

	CallWindowStart int `json:"call_window_start"`
	CallWindowEnd   int `json:"call_window_end"`
	Pace            int `json:"pace"`

	CallerIDMode  string `json:"caller_id_mode"`
	FixedCallerID string `json:"fixed_caller_id,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	AgentScriptID string `json:"agent_script_id,omitempty"`

	LocalPresence   bool `json:"local_presence"`
	NumberRotation  bool `json:"number_rotation"`
	AMDEnabled      bool `json:"amd_enabled"`
	SipTrunkEnabled bool `json:"sip_trunk_enabled"`

	MaxAttempts int    `json:"max_attempts"`
	DigitMap    string `json:"digit_map,omitempty"`

	CallbackDelayMinutes int `json:"callback_delay_minutes"`
	ReminderLeadMinutes  int `json:"reminder_lead_minutes"`

	CallsPlaced int64 `json:"calls_placed"`
	Transfers   int64 `json:"transfers"`
	Callbacks   int64 `json:"callbacks"`
	DNCRequests int64 `json:"dnc_requests"`

	LastError   string `json:"last_error,omitempty"`
	LastErrorAt string `json:"last_error_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// toCampaignResponse converts a models.Campaign to the API response.
func toCampaignResponse(c *models.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:                   c.ID,
		OwnerID:              c.OwnerID,
		Name:                 c.Name,
		Status:               c.Status,
		Timezone:             c.Timezone,
		CallWindowStart:      c.CallWindowStart,
		CallWindowEnd:        c.CallWindowEnd,
		Pace:                 c.Pace,
		CallerIDMode:         c.CallerIDMode,
		FixedCallerID:        c.FixedCallerID,
		AudioURL:             c.AudioURL,
		AgentScriptID:        c.AgentScriptID,
		LocalPresence:        c.LocalPresence,
		NumberRotation:       c.NumberRotation,
		AMDEnabled:           c.AMDEnabled,
		SipTrunkEnabled:      c.SipTrunkEnabled,
		MaxAttempts:          c.MaxAttempts,
		DigitMap:             c.DigitMap,
		CallbackDelayMinutes: c.CallbackDelayMinutes,
		ReminderLeadMinutes:  c.ReminderLeadMinutes,
		CallsPlaced:          c.CallsPlaced,
		Transfers:            c.Transfers,
		Callbacks:            c.Callbacks,
		DNCRequests:          c.DNCRequests,
		LastError:            c.LastError,
		CreatedAt:            c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            c.UpdatedAt.Format(time.RFC3339),
	}
	if c.LastErrorAt != nil {
		resp.LastErrorAt = c.LastErrorAt.Format(time.RFC3339)
	}
	return resp
}

// validateCampaignRequest checks field constraints shared by create/update.
func validateCampaignRequest(req campaignRequest) string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return "unknown timezone"
		}
	}
	if req.CallerIDMode != "" && req.CallerIDMode != "fixed" && req.CallerIDMode != "pool" {
		return "caller_id_mode must be fixed or pool"
	}
	if req.CallerIDMode == "fixed" && !validE164(req.FixedCallerID) {
		return "fixed caller_id_mode requires a valid fixed_caller_id"
	}
	if req.DigitMap != "" {
		if _, err := dialer.ParseDigitMap(req.DigitMap); err != nil {
			return "invalid digit_map"
		}
	}
	if req.CallWindowStart != nil && (*req.CallWindowStart < 0 || *req.CallWindowStart >= 1440) {
		return "call_window_start must be 0-1439 minutes"
	}
	if req.CallWindowEnd != nil && (*req.CallWindowEnd < 0 || *req.CallWindowEnd >= 1440) {
		return "call_window_end must be 0-1439 minutes"
	}
	return ""
}

// handleListCampaigns returns all campaigns for an owner.
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.deps.Campaigns.List(r.Context(), ownerParam(r))
	if err != nil {
		s.logger.Error("list campaigns: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]campaignResponse, len(campaigns))
	for i := range campaigns {
		items[i] = toCampaignResponse(&campaigns[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateCampaign creates a new draft campaign.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCampaignRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	c := &models.Campaign{
		OwnerID:         req.OwnerID,
		Name:            req.Name,
		Status:          models.CampaignStatusDraft,
		Timezone:        req.Timezone,
		CallWindowStart: 9 * 60,
		CallWindowEnd:   20 * 60,
		Pace:            10,
		CallerIDMode:    req.CallerIDMode,
		FixedCallerID:   req.FixedCallerID,
		AudioURL:        req.AudioURL,
		AgentScriptID:   req.AgentScriptID,
		LocalPresence:   req.LocalPresence,
		NumberRotation:  req.NumberRotation,
		AMDEnabled:      req.AMDEnabled,
		SipTrunkEnabled: req.SipTrunkEnabled,
		MaxAttempts:     3,
		DigitMap:        req.DigitMap,
	}
	if c.OwnerID == 0 {
		c.OwnerID = 1
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.CallerIDMode == "" {
		c.CallerIDMode = "pool"
	}
	if req.CallWindowStart != nil {
		c.CallWindowStart = *req.CallWindowStart
	}
	if req.CallWindowEnd != nil {
		c.CallWindowEnd = *req.CallWindowEnd
	}
	if req.Pace != nil && *req.Pace > 0 {
		c.Pace = *req.Pace
	}
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		c.MaxAttempts = *req.MaxAttempts
	}
	if req.CallbackDelayMinutes != nil {
		c.CallbackDelayMinutes = *req.CallbackDelayMinutes
	}
	if req.ReminderLeadMinutes != nil {
		c.ReminderLeadMinutes = *req.ReminderLeadMinutes
	}

	if err := s.deps.Campaigns.Create(r.Context(), c); err != nil {
		s.logger.Error("create campaign: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.deps.Campaigns.GetByID(r.Context(), c.ID)
	if err != nil || created == nil {
		s.logger.Error("create campaign: failed to re-fetch", "error", err, "campaign_id", c.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignResponse(created))
}

// handleGetCampaign returns one campaign.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get campaign: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleUpdateCampaign updates campaign settings. Status is controlled via
// start/stop, not this endpoint.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update campaign: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	var req campaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCampaignRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	c.Name = req.Name
	if req.Timezone != "" {
		c.Timezone = req.Timezone
	}
	if req.CallWindowStart != nil {
		c.CallWindowStart = *req.CallWindowStart
	}
	if req.CallWindowEnd != nil {
		c.CallWindowEnd = *req.CallWindowEnd
	}
	if req.Pace != nil && *req.Pace > 0 {
		c.Pace = *req.Pace
	}
	if req.CallerIDMode != "" {
		c.CallerIDMode = req.CallerIDMode
	}
	c.FixedCallerID = req.FixedCallerID
	c.AudioURL = req.AudioURL
	c.AgentScriptID = req.AgentScriptID
	c.LocalPresence = req.LocalPresence
	c.NumberRotation = req.NumberRotation
	c.AMDEnabled = req.AMDEnabled
	c.SipTrunkEnabled = req.SipTrunkEnabled
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		c.MaxAttempts = *req.MaxAttempts
	}
	c.DigitMap = req.DigitMap
	if req.CallbackDelayMinutes != nil {
		c.CallbackDelayMinutes = *req.CallbackDelayMinutes
	}
	if req.ReminderLeadMinutes != nil {
		c.ReminderLeadMinutes = *req.ReminderLeadMinutes
	}

	if err := s.deps.Campaigns.Update(r.Context(), c); err != nil {
		s.logger.Error("update campaign: failed to update", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update campaign: failed to re-fetch", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(updated))
}

// startRequest is the JSON request body for a start trigger.
type startRequest struct {
	TestBatchSize int  `json:"test_batch_size"`
	BypassHours   bool `json:"bypass_hours"`
}

// handleStartCampaign runs one dispatch tick, optionally in test mode.
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req startRequest
	if r.ContentLength > 0 {
		if errMsg := readJSON(r, &req); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}

	result, err := s.deps.Dispatcher.Start(r.Context(), id, dialer.StartOptions{
		TestBatchSize: req.TestBatchSize,
		BypassHours:   req.BypassHours,
	})
	if err != nil {
		// Precondition failures are user-actionable, not server faults.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStopCampaign halts dispatch and requeues in-flight items.
func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Dispatcher.Stop(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statsResponse aggregates campaign progress for operator polling.
type statsResponse struct {
	Campaign     campaignResponse `json:"campaign"`
	QueueCounts  map[string]int64 `json:"queue_counts"`
	SweptFailed  int              `json:"swept_failed"`
	SweptUpdated int              `json:"swept_updated"`
}

// handleCampaignStats returns queue counts and counters; it also runs the
// reconciliation sweep so the numbers reflect reality.
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("campaign stats: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	sweep, err := s.deps.Reconciler.Sweep(r.Context(), c)
	if err != nil {
		s.logger.Error("campaign stats: sweep failed", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-read after the sweep so counters and last-error are current.
	c, err = s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil || c == nil {
		s.logger.Error("campaign stats: failed to re-fetch", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	counts, err := s.deps.Items.StatusCounts(r.Context(), id)
	if err != nil {
		s.logger.Error("campaign stats: failed to count", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Campaign:     toCampaignResponse(c),
		QueueCounts:  counts,
		SweptFailed:  sweep.ForceFailed,
		SweptUpdated: sweep.Reconciled,
	})
}

// handleInspectCampaign force-fetches live provider status for all
// in-flight calls.
func (s *Server) handleInspectCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.deps.Dispatcher.Inspect(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// enqueueRequest is the JSON request body for bulk enqueue.
type enqueueRequest struct {
	Destinations []enqueueDestination `json:"destinations"`
}

type enqueueDestination struct {
	Number string `json:"number"`
	LeadID *int64 `json:"lead_id,omitempty"`
}

// enqueueResponse reports how many destinations were queued.
type enqueueResponse struct {
	Queued     int `json:"queued"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Suppressed int `json:"suppressed"`
}

// handleEnqueue bulk-creates pending queue items, skipping destinations
// already pending for the campaign and ones on the do-not-call list.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("enqueue: failed to query campaign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	var req enqueueRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if len(req.Destinations) == 0 {
		writeError(w, http.StatusBadRequest, "destinations is required")
		return
	}

	var resp enqueueResponse
	now := time.Now()
	for _, dest := range req.Destinations {
		if !validE164(dest.Number) {
			resp.Invalid++
			continue
		}

		suppressed, err := s.deps.DNC.Exists(r.Context(), c.OwnerID, dest.Number)
		if err != nil {
			s.logger.Error("enqueue: dnc check failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if suppressed {
			resp.Suppressed++
			continue
		}

		inserted, err := s.deps.Items.CreatePendingIfAbsent(r.Context(), &models.QueueItem{
			CampaignID:  id,
			LeadID:      dest.LeadID,
			Destination: dest.Number,
			MaxAttempts: c.MaxAttempts,
			ScheduledAt: now,
		})
		if err != nil {
			s.logger.Error("enqueue: failed to insert", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if inserted {
			resp.Queued++
		} else {
			resp.Duplicates++
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}
