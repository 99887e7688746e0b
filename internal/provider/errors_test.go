package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorUnknown},
		{"plain", errors.New("boom"), ErrorUnknown},
		{"rate limited", NewCallError(BackendTwilio, ErrorRateLimited, "429", nil), ErrorRateLimited},
		{"authorization", NewCallError(BackendSignalWire, ErrorAuthorization, "403", nil), ErrorAuthorization},
		{"wrapped", fmt.Errorf("placing call: %w", NewCallError(BackendAgent, ErrorValidation, "bad number", nil)), ErrorValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(fmt.Errorf("outer: %w", NewCallError(BackendTwilio, ErrorRateLimited, "429", nil))) {
		t.Error("wrapped rate-limited error should be detected")
	}
	if IsRateLimited(errors.New("boom")) {
		t.Error("plain error should not be rate limited")
	}
}

func TestCallErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewCallError(BackendTwilio, ErrorUnavailable, "transport failure", cause)
	if !errors.Is(err, cause) {
		t.Error("CallError should unwrap to its cause")
	}
}
