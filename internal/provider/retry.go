package provider

import (
	"context"
	"log/slog"
	"time"
)

const (
	// retryMaxAttempts bounds rate-limit retries for a single placement.
	retryMaxAttempts = 3
	// retryBaseDelay is the first backoff step; it doubles per retry
	// (1s, 2s, 4s).
	retryBaseDelay = time.Second
)

// RetryingPlacer wraps a call placement with bounded exponential backoff
// on rate limiting. All other error classes propagate immediately; the
// coarser per-item attempts/max_attempts mechanism handles those.
type RetryingPlacer struct {
	next      CallPlacer
	baseDelay time.Duration
	logger    *slog.Logger
}

// NewRetryingPlacer wraps next with rate-limit retries.
func NewRetryingPlacer(next CallPlacer, logger *slog.Logger) *RetryingPlacer {
	return &RetryingPlacer{
		next:      next,
		baseDelay: retryBaseDelay,
		logger:    logger.With("subsystem", "retry"),
	}
}

// PlaceCall implements CallPlacer.
func (r *RetryingPlacer) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	result, err := r.next.PlaceCall(ctx, req)
	if err == nil || !IsRateLimited(err) {
		return result, err
	}

	delay := r.baseDelay
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		r.logger.Warn("rate limited, backing off",
			"to", req.To,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		result, err = r.next.PlaceCall(ctx, req)
		if err == nil || !IsRateLimited(err) {
			return result, err
		}
		delay *= 2
	}

	// Still rate limited after all retries; the classified error lets the
	// caller aggregate rate-limit incidence separately.
	return nil, err
}

// Ensure RetryingPlacer satisfies the CallPlacer interface.
var _ CallPlacer = (*RetryingPlacer)(nil)
