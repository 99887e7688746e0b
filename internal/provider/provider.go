package provider

import "context"

// Backend identifies a telephony backend.
type Backend string

const (
	BackendTwilio     Backend = "twilio"
	BackendSignalWire Backend = "signalwire"
	BackendAgent      Backend = "agent"
)

// SupportsAudioPlayback reports whether a backend can play a pre-rendered
// audio file directly into the call. The AI-agent backend drives calls from
// a script instead.
func SupportsAudioPlayback(b Backend) bool {
	return b == BackendTwilio || b == BackendSignalWire
}

// TrunkRoute carries the identifiers needed to route a call through a SIP
// trunk instead of the backend's direct API path.
type TrunkRoute struct {
	SID       string
	Host      string
	Port      int
	Transport string
	Username  string
	Password  string
}

// CallRequest describes a single outbound call to be placed.
type CallRequest struct {
	From string // E.164 caller ID
	To   string // E.164 destination

	// AudioURL is the pre-rendered broadcast audio for carrier backends.
	AudioURL string
	// AgentScriptID is the AI-agent script reference for the agent backend.
	AgentScriptID string

	// StatusCallbackURL receives the asynchronous terminal status webhook.
	StatusCallbackURL string
	// DTMFCallbackURL receives in-call keypress events.
	DTMFCallbackURL string

	// MachineDetection enables answering-machine detection where the
	// backend supports it.
	MachineDetection bool

	// Trunk, when non-nil, requests trunk-routed placement. Adapters that
	// cannot route through a trunk ignore it.
	Trunk *TrunkRoute

	// Metadata is attached to the call for webhook correlation.
	Metadata map[string]string
}

// CallResult acknowledges that a backend accepted a call for placement.
// Acceptance is not completion; the terminal status arrives later via
// webhook or the status lookup endpoint.
type CallResult struct {
	ProviderCallID string
}

// CallStatus is the point-in-time status of a placed call as reported by
// the backend's lookup endpoint.
type CallStatus struct {
	// Status is the backend-normalized call state: "queued", "ringing",
	// "in-progress", "completed", "busy", "no-answer", "failed",
	// "canceled".
	Status string
	// DurationSec is the connected duration, zero until the call ends.
	DurationSec int
}

// Terminal reports whether the status will no longer change.
func (s *CallStatus) Terminal() bool {
	switch s.Status {
	case "completed", "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}

// CallPlacer places a single outbound call. Both adapters and the
// wrapping layers (retry, trunk fallback) implement it.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error)
}

// CallProvider is the uniform adapter contract over a telephony backend.
type CallProvider interface {
	CallPlacer
	Name() Backend
	// GetCallStatus looks up a placed call directly, bypassing webhooks.
	GetCallStatus(ctx context.Context, providerCallID string) (*CallStatus, error)
}
