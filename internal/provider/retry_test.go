package provider

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// scriptedPlacer returns canned results in order, recording each request.
type scriptedPlacer struct {
	results []error
	calls   []CallRequest
}

func (s *scriptedPlacer) PlaceCall(_ context.Context, req CallRequest) (*CallResult, error) {
	s.calls = append(s.calls, req)
	idx := len(s.calls) - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	if err := s.results[idx]; err != nil {
		return nil, err
	}
	return &CallResult{ProviderCallID: "CA123"}, nil
}

func rateLimitedErr() error {
	return NewCallError(BackendTwilio, ErrorRateLimited, "too many requests", nil)
}

func TestRetryingPlacerRetriesRateLimits(t *testing.T) {
	// Four consecutive rate-limited responses: one initial attempt plus
	// exactly three retries, then the rate-limited error surfaces.
	next := &scriptedPlacer{results: []error{
		rateLimitedErr(), rateLimitedErr(), rateLimitedErr(), rateLimitedErr(),
	}}
	r := NewRetryingPlacer(next, slog.Default())
	r.baseDelay = time.Millisecond

	_, err := r.PlaceCall(context.Background(), CallRequest{To: "+15551230001"})
	if err == nil {
		t.Fatal("PlaceCall() should fail after exhausting retries")
	}
	if got := len(next.calls); got != 4 {
		t.Errorf("attempts = %d, want 4 (1 initial + 3 retries)", got)
	}
	if !IsRateLimited(err) {
		t.Errorf("final error should still classify as rate limited, got %v", err)
	}
}

func TestRetryingPlacerSucceedsMidway(t *testing.T) {
	next := &scriptedPlacer{results: []error{rateLimitedErr(), rateLimitedErr(), nil}}
	r := NewRetryingPlacer(next, slog.Default())
	r.baseDelay = time.Millisecond

	result, err := r.PlaceCall(context.Background(), CallRequest{To: "+15551230001"})
	if err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if result.ProviderCallID != "CA123" {
		t.Errorf("ProviderCallID = %q, want CA123", result.ProviderCallID)
	}
	if got := len(next.calls); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetryingPlacerDoesNotRetryOtherClasses(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"authorization", NewCallError(BackendTwilio, ErrorAuthorization, "not owned", nil)},
		{"validation", NewCallError(BackendTwilio, ErrorValidation, "bad number", nil)},
		{"unavailable", NewCallError(BackendTwilio, ErrorUnavailable, "http 503", nil)},
		{"plain", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &scriptedPlacer{results: []error{tt.err}}
			r := NewRetryingPlacer(next, slog.Default())
			r.baseDelay = time.Millisecond

			if _, err := r.PlaceCall(context.Background(), CallRequest{}); err == nil {
				t.Fatal("PlaceCall() should fail")
			}
			if got := len(next.calls); got != 1 {
				t.Errorf("attempts = %d, want 1 (no retries)", got)
			}
		})
	}
}

func TestRetryingPlacerHonorsContext(t *testing.T) {
	next := &scriptedPlacer{results: []error{rateLimitedErr()}}
	r := NewRetryingPlacer(next, slog.Default())
	r.baseDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.PlaceCall(ctx, CallRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
