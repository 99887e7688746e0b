package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider places calls through the Twilio REST API (carrier A).
type TwilioProvider struct {
	client *twilio.RestClient
	logger *slog.Logger
}

// NewTwilioProvider creates a Twilio adapter.
func NewTwilioProvider(accountSID, authToken string, logger *slog.Logger) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{
		client: client,
		logger: logger.With("backend", BackendTwilio),
	}
}

// Name implements CallProvider.
func (p *TwilioProvider) Name() Backend {
	return BackendTwilio
}

// PlaceCall places an outbound call carrying the broadcast spoken menu.
// The result only confirms that Twilio accepted the call; terminal status
// arrives via the status callback.
func (p *TwilioProvider) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	twiml, err := BroadcastTwiML(req.AudioURL, req.DTMFCallbackURL)
	if err != nil {
		return nil, NewCallError(BackendTwilio, ErrorUnknown, "building call payload", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetFrom(req.From)
	params.SetTwiml(twiml)
	params.SetStatusCallback(req.StatusCallbackURL)
	params.SetStatusCallbackEvent([]string{"completed"})
	if req.MachineDetection {
		params.SetMachineDetection("Enable")
	}

	if req.Trunk != nil {
		// Trunk-routed placement: dial the destination as a SIP URI
		// terminated by the trunk, authenticating with the trunk
		// credentials.
		params.SetTo(fmt.Sprintf("sip:%s@%s:%d;transport=%s",
			req.To, req.Trunk.Host, req.Trunk.Port, req.Trunk.Transport))
		params.SetSipAuthUsername(req.Trunk.Username)
		params.SetSipAuthPassword(req.Trunk.Password)
	} else {
		params.SetTo(req.To)
	}

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		return nil, p.classify(err)
	}

	var sid string
	if call.Sid != nil {
		sid = *call.Sid
	}

	p.logger.Debug("call accepted", "sid", sid, "to", req.To, "from", req.From,
		"trunk", req.Trunk != nil)
	return &CallResult{ProviderCallID: sid}, nil
}

// GetCallStatus looks up a call directly, bypassing the status webhook.
func (p *TwilioProvider) GetCallStatus(ctx context.Context, providerCallID string) (*CallStatus, error) {
	call, err := p.client.Api.FetchCall(providerCallID, &openapi.FetchCallParams{})
	if err != nil {
		return nil, p.classify(err)
	}

	status := &CallStatus{}
	if call.Status != nil {
		status.Status = *call.Status
	}
	if call.Duration != nil {
		if d, err := strconv.Atoi(*call.Duration); err == nil {
			status.DurationSec = d
		}
	}
	return status, nil
}

// Twilio error codes that surface from-number ownership problems.
const (
	twilioCodeFromNotVerified  = 21210
	twilioCodeFromNotOwned     = 21606
	twilioCodeInvalidTo        = 21211
	twilioCodeInvalidFrom      = 21212
	twilioCodeTooManyRequests  = 20429
)

// classify maps Twilio's error vocabulary onto the shared taxonomy.
func (p *TwilioProvider) classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return NewCallError(BackendTwilio, ErrorUnavailable, "transport failure", err)
	}

	switch {
	case restErr.Status == 429 || restErr.Code == twilioCodeTooManyRequests:
		return NewCallError(BackendTwilio, ErrorRateLimited, restErr.Message, err)
	case restErr.Code == twilioCodeFromNotVerified || restErr.Code == twilioCodeFromNotOwned:
		return NewCallError(BackendTwilio, ErrorAuthorization, restErr.Message, err)
	case restErr.Status == 401 || restErr.Status == 403:
		return NewCallError(BackendTwilio, ErrorAuthorization, restErr.Message, err)
	case restErr.Code == twilioCodeInvalidTo || restErr.Code == twilioCodeInvalidFrom:
		return NewCallError(BackendTwilio, ErrorValidation, restErr.Message, err)
	case restErr.Status >= 500:
		return NewCallError(BackendTwilio, ErrorUnavailable, restErr.Message, err)
	default:
		return NewCallError(BackendTwilio, ErrorUnknown, restErr.Message, err)
	}
}

// Ensure TwilioProvider satisfies the CallProvider interface.
var _ CallProvider = (*TwilioProvider)(nil)
