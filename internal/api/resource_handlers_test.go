package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestNumberCreateAndUpdate(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/numbers", map[string]any{
		"number":   "+15550001111",
		"provider": "twilio",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}

	var created numberResponse
	decodeData(t, rec, &created)
	if !created.Active || created.DailyCap != 200 {
		t.Errorf("defaults = (active=%v, cap=%d), want (true, 200)", created.Active, created.DailyCap)
	}

	rec = ts.do(t, http.MethodPost, "/v1/numbers", map[string]any{
		"number":   "5550001111",
		"provider": "twilio",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-E.164 number: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/v1/numbers/1", map[string]any{
		"spam_flagged": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	var updated numberResponse
	decodeData(t, rec, &updated)
	if !updated.SpamFlagged {
		t.Error("spam flag not applied")
	}
}

func TestTrunkLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/trunks", map[string]any{
		"provider": "twilio",
		"name":     "primary",
		"host":     "sip.example.com",
		"username": "dialcast",
		"password": "s3cret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Error("password must never be echoed back")
	}

	var created trunkResponse
	decodeData(t, rec, &created)
	if created.Port != 5060 || created.Transport != "udp" {
		t.Errorf("defaults = (%d, %q), want (5060, udp)", created.Port, created.Transport)
	}

	// Updating without a password keeps the stored one.
	rec = ts.do(t, http.MethodPut, "/v1/trunks/1", map[string]any{
		"name": "renamed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	stored, err := ts.deps.Trunks.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if stored.Password != "s3cret" {
		t.Errorf("stored password = %q, want preserved", stored.Password)
	}
	if stored.Name != "renamed" {
		t.Errorf("name = %q, want renamed", stored.Name)
	}

	rec = ts.do(t, http.MethodDelete, "/v1/trunks/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/v1/trunks/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCheckDNC(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.deps.DNC.Upsert(context.Background(), 1, "+15551230009", "manual"); err != nil {
		t.Fatalf("seeding dnc: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/v1/dnc/check?number=%2B15551230009", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	decodeData(t, rec, &resp)
	if !resp["suppressed"] {
		t.Error("listed number should report suppressed")
	}

	rec = ts.do(t, http.MethodGet, "/v1/dnc/check?number=%2B15559999999", nil)
	decodeData(t, rec, &resp)
	if resp["suppressed"] {
		t.Error("unlisted number should not report suppressed")
	}

	rec = ts.do(t, http.MethodGet, "/v1/dnc/check?number=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid number: status = %d, want 400", rec.Code)
	}
}

func TestValidE164(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"+15551230001", true},
		{"+442071234567", true},
		{"15551230001", false},
		{"+1555", false},
		{"+1555123000155512300", false},
		{"+1555abc0001", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validE164(tt.number); got != tt.want {
			t.Errorf("validE164(%q) = %v, want %v", tt.number, got, tt.want)
		}
	}
}
