package provider

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type recordingRecorder struct {
	numbers []string
}

func (r *recordingRecorder) RecordTrunkAuthFailure(_ context.Context, fromNumber string) {
	r.numbers = append(r.numbers, fromNumber)
}

type failingHealth struct{ err error }

func (h *failingHealth) Check(context.Context, TrunkRoute) error { return h.err }

func testTrunk() *TrunkRoute {
	return &TrunkRoute{Host: "sip.example.com", Port: 5060, Transport: "udp", Username: "dial"}
}

func TestFallbackPassesThroughWithoutTrunk(t *testing.T) {
	next := &scriptedPlacer{results: []error{nil}}
	f := NewTrunkFallbackPlacer(next, nil, nil, slog.Default())

	if _, err := f.PlaceCall(context.Background(), CallRequest{To: "+15551230001"}); err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if len(next.calls) != 1 {
		t.Fatalf("attempts = %d, want 1", len(next.calls))
	}
	if next.calls[0].Trunk != nil {
		t.Error("request without trunk should stay trunkless")
	}
}

func TestFallbackRetriesDirectOnceOnAuthFailure(t *testing.T) {
	// Trunk-routed placement rejected with an authorization failure must
	// trigger exactly one direct retry, with the soft signal recorded.
	next := &scriptedPlacer{results: []error{
		NewCallError(BackendTwilio, ErrorAuthorization, "from-number not on trunk", nil),
		nil,
	}}
	recorder := &recordingRecorder{}
	f := NewTrunkFallbackPlacer(next, nil, recorder, slog.Default())

	result, err := f.PlaceCall(context.Background(), CallRequest{
		From:  "+15559990001",
		To:    "+15551230001",
		Trunk: testTrunk(),
	})
	if err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if result.ProviderCallID != "CA123" {
		t.Errorf("ProviderCallID = %q, want CA123", result.ProviderCallID)
	}

	if got := len(next.calls); got != 2 {
		t.Fatalf("attempts = %d, want 2 (trunk + one direct)", got)
	}
	if next.calls[0].Trunk == nil {
		t.Error("first attempt should be trunk-routed")
	}
	if next.calls[1].Trunk != nil {
		t.Error("second attempt should be direct")
	}
	if len(recorder.numbers) != 1 || recorder.numbers[0] != "+15559990001" {
		t.Errorf("recorded numbers = %v, want [+15559990001]", recorder.numbers)
	}
}

func TestFallbackDoesNotRetryOtherErrors(t *testing.T) {
	next := &scriptedPlacer{results: []error{
		NewCallError(BackendTwilio, ErrorUnavailable, "http 503", nil),
	}}
	recorder := &recordingRecorder{}
	f := NewTrunkFallbackPlacer(next, nil, recorder, slog.Default())

	_, err := f.PlaceCall(context.Background(), CallRequest{Trunk: testTrunk()})
	if err == nil {
		t.Fatal("PlaceCall() should fail")
	}
	if got := len(next.calls); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if len(recorder.numbers) != 0 {
		t.Errorf("no auth failure should be recorded, got %v", recorder.numbers)
	}
}

func TestFallbackUsesDirectWhenTrunkUnhealthy(t *testing.T) {
	next := &scriptedPlacer{results: []error{nil}}
	health := &failingHealth{err: errors.New("options ping timed out")}
	f := NewTrunkFallbackPlacer(next, health, nil, slog.Default())

	if _, err := f.PlaceCall(context.Background(), CallRequest{Trunk: testTrunk()}); err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if got := len(next.calls); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
	if next.calls[0].Trunk != nil {
		t.Error("unhealthy trunk should force the direct path")
	}
}
