package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusServiceUnavailable, "voice pipeline unavailable")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "voice pipeline unavailable" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestRespondJSONWithoutPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusNoContent, nil)

	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
