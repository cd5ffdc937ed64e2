package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestRespondWritesStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 202, map[string]string{"id": "abc"})

	if w.Code != 202 {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("body = %v", body)
	}
}

func TestRespondNilDataWritesNoBody(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 204, nil)
	if w.Body.Len() != 0 {
		t.Errorf("expected an empty body, got %q", w.Body.String())
	}
}

func TestRespondErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, 404, "not_found", "avm does not exist")

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error != "not_found" || body.Message != "avm does not exist" {
		t.Errorf("body = %+v", body)
	}
}
