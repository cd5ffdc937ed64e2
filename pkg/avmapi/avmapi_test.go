package avmapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestUserIDPrefersHeaderOverQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?user_id=from-query", nil)
	r.Header.Set("X-User-ID", "from-header")
	if got := userID(r); got != "from-header" {
		t.Errorf("userID() = %q, want %q", got, "from-header")
	}
}

func TestUserIDFallsBackToQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?user_id=from-query", nil)
	if got := userID(r); got != "from-query" {
		t.Errorf("userID() = %q, want %q", got, "from-query")
	}
}

func TestUserIDEmptyWhenNeitherPresent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := userID(r); got != "" {
		t.Errorf("userID() = %q, want empty", got)
	}
}

func TestParseIDRejectsMalformedUUID(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	r := httptest.NewRequest(http.MethodGet, "/avms/not-a-uuid", nil)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	_, ok := parseID(w, r, "id")
	if ok {
		t.Error("parseID() = true for a malformed UUID")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestParseIDAcceptsValidUUID(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "2f4d6f0a-6c3e-4b6a-9b1a-1a2b3c4d5e6f")
	r := httptest.NewRequest(http.MethodGet, "/avms/x", nil)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	id, ok := parseID(w, r, "id")
	if !ok {
		t.Fatal("parseID() = false for a valid UUID")
	}
	if id.String() != "2f4d6f0a-6c3e-4b6a-9b1a-1a2b3c4d5e6f" {
		t.Errorf("id = %s", id)
	}
}

func TestNotFoundWrites404(t *testing.T) {
	w := httptest.NewRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	notFound(w, log, "avm", errors.New("no rows"))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
