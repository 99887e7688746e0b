package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignalWireProvider places calls through SignalWire's LaML-compatible
// REST API (carrier B).
type SignalWireProvider struct {
	httpClient *http.Client
	baseURL    string
	project    string
	token      string
	logger     *slog.Logger
}

// NewSignalWireProvider creates a SignalWire adapter. space is the
// project's space domain, e.g. "example.signalwire.com".
func NewSignalWireProvider(space, project, token string, logger *slog.Logger) *SignalWireProvider {
	return &SignalWireProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("https://%s/api/laml/2010-04-01/Accounts/%s", space, project),
		project:    project,
		token:      token,
		logger:     logger.With("backend", BackendSignalWire),
	}
}

// swCallResource is the subset of the LaML call resource we consume.
type swCallResource struct {
	SID      string `json:"sid"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// swErrorBody is the LaML error response shape.
type swErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Name implements CallProvider.
func (p *SignalWireProvider) Name() Backend {
	return BackendSignalWire
}

// PlaceCall places an outbound call carrying the broadcast spoken menu.
func (p *SignalWireProvider) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	twiml, err := BroadcastTwiML(req.AudioURL, req.DTMFCallbackURL)
	if err != nil {
		return nil, NewCallError(BackendSignalWire, ErrorUnknown, "building call payload", err)
	}

	form := url.Values{}
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackMethod", "POST")
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	if req.Trunk != nil {
		form.Set("To", fmt.Sprintf("sip:%s@%s:%d;transport=%s",
			req.To, req.Trunk.Host, req.Trunk.Port, req.Trunk.Transport))
		form.Set("SipAuthUsername", req.Trunk.Username)
		form.Set("SipAuthPassword", req.Trunk.Password)
	} else {
		form.Set("To", req.To)
	}

	var call swCallResource
	if err := p.do(ctx, http.MethodPost, "/Calls.json", form, &call); err != nil {
		return nil, err
	}

	p.logger.Debug("call accepted", "sid", call.SID, "to", req.To,
		"from", req.From, "trunk", req.Trunk != nil)
	return &CallResult{ProviderCallID: call.SID}, nil
}

// GetCallStatus looks up a call directly, bypassing the status webhook.
func (p *SignalWireProvider) GetCallStatus(ctx context.Context, providerCallID string) (*CallStatus, error) {
	var call swCallResource
	if err := p.do(ctx, http.MethodGet, "/Calls/"+providerCallID+".json", nil, &call); err != nil {
		return nil, err
	}

	status := &CallStatus{Status: call.Status}
	if d, err := strconv.Atoi(call.Duration); err == nil {
		status.DurationSec = d
	}
	return status, nil
}

// do performs an authenticated LaML request and decodes the response into
// out, classifying any failure.
func (p *SignalWireProvider) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return NewCallError(BackendSignalWire, ErrorUnknown, "creating request", err)
	}
	httpReq.SetBasicAuth(p.project, p.token)
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return NewCallError(BackendSignalWire, ErrorUnavailable, "transport failure", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewCallError(BackendSignalWire, ErrorUnavailable, "reading response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewCallError(BackendSignalWire, ErrorUnknown, "decoding response", err)
		}
		return nil
	}

	var swErr swErrorBody
	_ = json.Unmarshal(raw, &swErr)
	msg := swErr.Message
	if msg == "" {
		msg = fmt.Sprintf("http %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewCallError(BackendSignalWire, ErrorRateLimited, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewCallError(BackendSignalWire, ErrorAuthorization, msg, nil)
	case swErr.Code == twilioCodeFromNotVerified || swErr.Code == twilioCodeFromNotOwned:
		// LaML reuses the upstream error code vocabulary.
		return NewCallError(BackendSignalWire, ErrorAuthorization, msg, nil)
	case swErr.Code == twilioCodeInvalidTo || swErr.Code == twilioCodeInvalidFrom:
		return NewCallError(BackendSignalWire, ErrorValidation, msg, nil)
	case resp.StatusCode == http.StatusBadRequest:
		return NewCallError(BackendSignalWire, ErrorValidation, msg, nil)
	case resp.StatusCode >= 500:
		return NewCallError(BackendSignalWire, ErrorUnavailable, msg, nil)
	default:
		return NewCallError(BackendSignalWire, ErrorUnknown, msg, nil)
	}
}

// Ensure SignalWireProvider satisfies the CallProvider interface.
var _ CallProvider = (*SignalWireProvider)(nil)
