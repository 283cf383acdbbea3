package middleware

import (
	"net/http"
	"strings"

	"github.com/sentra/backend/internal/tenant"
)

// TenantMiddleware ensures a valid tenant context exists for the request.
func TenantMiddleware(tm *tenant.Manager, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var tenantID string

		// 1. Authorization header (API key)
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer sentra_") {
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			t, err := tm.ValidateAPIKey(ctx, apiKey)
			if err != nil {
				http.Error(w, "Invalid API Key", http.StatusUnauthorized)
				return
			}
			tenantID = t.TenantID
		}

		// 2. X-Tenant-ID header fallback. Trusted-network use only; a
		// production gateway should strip it from external traffic.
		if tenantID == "" {
			reqTenantID := r.Header.Get("X-Tenant-ID")
			if reqTenantID != "" {
				t, err := tm.LoadTenant(ctx, reqTenantID)
				if err != nil {
					http.Error(w, "Invalid Tenant ID", http.StatusUnauthorized)
					return
				}
				tenantID = t.TenantID
			}
		}

		if tenantID == "" {
			http.Error(w, "Missing Tenant Context (API Key or X-Tenant-ID)", http.StatusUnauthorized)
			return
		}

		ctx = tenant.WithTenant(ctx, tenantID)
		next(w, r.WithContext(ctx))
	}
}
