package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestTenantFromPathPassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.With(tenantFromPath("tenantID")).Get("/t/{tenantID}", func(w http.ResponseWriter, r *http.Request) {
		if got := tenantFromRequest(r); got != "tenant-abc" {
			t.Fatalf("expected tenant id propagated, got %q", got)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/t/tenant-abc", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestTenantFromPathMissingParam(t *testing.T) {
	handler := tenantFromPath("tenantID")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tenant, got %d", rr.Code)
	}
}
