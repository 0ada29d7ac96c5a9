package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tasukuchiba/chat_presence_app/internal/storage"
)

func TestWithCORS_Preflight(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())
	handler := WithCORS(s.mux)

	req := httptest.NewRequest(http.MethodOptions, "/messages/abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	req.Header.Set("Access-Control-Request-Headers", UserHeader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected Access-Control-Allow-Origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != http.MethodDelete {
		t.Errorf("expected Access-Control-Allow-Methods %s, got %q", http.MethodDelete, got)
	}
}

func TestWithCORS_SimpleRequest(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())
	handler := WithCORS(s.mux)

	req := httptest.NewRequest(http.MethodGet, "/participants", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected Access-Control-Allow-Origin *, got %q", got)
	}
}
