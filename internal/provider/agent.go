package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// AgentProvider places calls through the AI voice-agent backend, which
// drives the conversation from a configured script rather than playing a
// pre-rendered audio file.
type AgentProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewAgentProvider creates an AI-agent adapter.
func NewAgentProvider(baseURL, apiKey string, logger *slog.Logger) *AgentProvider {
	return &AgentProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger.With("backend", BackendAgent),
	}
}

// agentCallRequest is the placement payload for POST /v1/calls.
type agentCallRequest struct {
	ScriptID         string            `json:"script_id"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	StatusWebhookURL string            `json:"status_webhook_url"`
	DTMFWebhookURL   string            `json:"dtmf_webhook_url,omitempty"`
	MachineDetection bool              `json:"machine_detection,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// agentCallResource is the call resource returned by the agent API.
type agentCallResource struct {
	CallID      string `json:"call_id"`
	Status      string `json:"status"`
	DurationSec int    `json:"duration_sec"`
	Error       string `json:"error,omitempty"`
}

// Name implements CallProvider.
func (p *AgentProvider) Name() Backend {
	return BackendAgent
}

// PlaceCall asks the agent backend to start a scripted outbound call.
func (p *AgentProvider) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	payload := agentCallRequest{
		ScriptID:         req.AgentScriptID,
		From:             req.From,
		To:               req.To,
		StatusWebhookURL: req.StatusCallbackURL,
		DTMFWebhookURL:   req.DTMFCallbackURL,
		MachineDetection: req.MachineDetection,
		Metadata:         req.Metadata,
	}

	var call agentCallResource
	if err := p.do(ctx, http.MethodPost, "/v1/calls", payload, &call); err != nil {
		return nil, err
	}

	p.logger.Debug("call accepted", "call_id", call.CallID, "to", req.To, "from", req.From)
	return &CallResult{ProviderCallID: call.CallID}, nil
}

// GetCallStatus looks up a call directly, bypassing the status webhook.
func (p *AgentProvider) GetCallStatus(ctx context.Context, providerCallID string) (*CallStatus, error) {
	var call agentCallResource
	if err := p.do(ctx, http.MethodGet, "/v1/calls/"+providerCallID, nil, &call); err != nil {
		return nil, err
	}
	return &CallStatus{Status: call.Status, DurationSec: call.DurationSec}, nil
}

// do performs an authenticated JSON request against the agent API and
// decodes the response into out, classifying any failure.
func (p *AgentProvider) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return NewCallError(BackendAgent, ErrorUnknown, "marshalling request", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return NewCallError(BackendAgent, ErrorUnknown, "creating request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return NewCallError(BackendAgent, ErrorUnavailable, "transport failure", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewCallError(BackendAgent, ErrorUnavailable, "reading response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewCallError(BackendAgent, ErrorUnknown, "decoding response", err)
		}
		return nil
	}

	var errBody agentCallResource
	_ = json.Unmarshal(raw, &errBody)
	msg := errBody.Error
	if msg == "" {
		msg = fmt.Sprintf("http %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewCallError(BackendAgent, ErrorRateLimited, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewCallError(BackendAgent, ErrorAuthorization, msg, nil)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewCallError(BackendAgent, ErrorValidation, msg, nil)
	case resp.StatusCode >= 500:
		return NewCallError(BackendAgent, ErrorUnavailable, msg, nil)
	default:
		return NewCallError(BackendAgent, ErrorUnknown, msg, nil)
	}
}

// Ensure AgentProvider satisfies the CallProvider interface.
var _ CallProvider = (*AgentProvider)(nil)
