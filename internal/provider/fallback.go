package provider

import (
	"context"
	"log/slog"
)

// TrunkHealthChecker verifies that a trunk is reachable before a call is
// routed through it.
type TrunkHealthChecker interface {
	Check(ctx context.Context, route TrunkRoute) error
}

// TrunkAuthRecorder receives a soft signal that trunk routing rejected a
// from-number, so future selections can prefer the direct path for it.
type TrunkAuthRecorder interface {
	RecordTrunkAuthFailure(ctx context.Context, fromNumber string)
}

// TrunkFallbackPlacer attempts trunk-routed placement first and falls back
// to the direct API path when the trunk does not recognize the from-number.
// Requests without a trunk route pass straight through to the direct path,
// which is the default and better-tested route.
type TrunkFallbackPlacer struct {
	next     CallPlacer
	health   TrunkHealthChecker // may be nil
	recorder TrunkAuthRecorder  // may be nil
	logger   *slog.Logger
}

// NewTrunkFallbackPlacer wraps next with trunk-first routing.
func NewTrunkFallbackPlacer(next CallPlacer, health TrunkHealthChecker, recorder TrunkAuthRecorder, logger *slog.Logger) *TrunkFallbackPlacer {
	return &TrunkFallbackPlacer{
		next:     next,
		health:   health,
		recorder: recorder,
		logger:   logger.With("subsystem", "trunk-fallback"),
	}
}

// PlaceCall implements CallPlacer.
func (t *TrunkFallbackPlacer) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	if req.Trunk == nil {
		return t.next.PlaceCall(ctx, req)
	}

	if t.health != nil {
		if err := t.health.Check(ctx, *req.Trunk); err != nil {
			t.logger.Warn("trunk unreachable, using direct path",
				"trunk_host", req.Trunk.Host,
				"error", err,
			)
			return t.placeDirect(ctx, req)
		}
	}

	result, err := t.next.PlaceCall(ctx, req)
	if err == nil || Classify(err) != ErrorAuthorization {
		return result, err
	}

	// The trunk rejected the from-number. Record the soft signal and
	// retry exactly once via the direct API path.
	t.logger.Warn("trunk rejected from-number, falling back to direct path",
		"from", req.From,
		"trunk_host", req.Trunk.Host,
		"error", err,
	)
	if t.recorder != nil {
		t.recorder.RecordTrunkAuthFailure(ctx, req.From)
	}
	return t.placeDirect(ctx, req)
}

func (t *TrunkFallbackPlacer) placeDirect(ctx context.Context, req CallRequest) (*CallResult, error) {
	direct := req
	direct.Trunk = nil
	return t.next.PlaceCall(ctx, direct)
}

// Ensure TrunkFallbackPlacer satisfies the CallPlacer interface.
var _ CallPlacer = (*TrunkFallbackPlacer)(nil)
