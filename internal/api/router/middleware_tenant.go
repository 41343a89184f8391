package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chat-engine/internal/tenancy"
)

// tenantFromPath stores the tenant id from the named URL param in the request context.
func tenantFromPath(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(chi.URLParam(r, param))
			if tenantID == "" {
				http.Error(w, "missing tenant", http.StatusBadRequest)
				return
			}
			ctx := tenancy.WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tenantFromRequest exposes the tenant id for local handlers.
func tenantFromRequest(r *http.Request) string {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	return tenantID
}
