package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentra/backend/internal/tenant"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, tenantID, headerTenant string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate", nil)
	if tenantID != "" {
		req = req.WithContext(tenant.WithTenant(req.Context(), tenantID))
	}
	if headerTenant != "" {
		req.Header.Set("X-Tenant-ID", headerTenant)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterKeysOnAuthenticatedTenant(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 2})
	h := limitedHandler(rl)

	assert.Equal(t, http.StatusOK, hit(h, "acme", ""))
	assert.Equal(t, http.StatusOK, hit(h, "acme", ""))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "acme", ""))

	// Another tenant has its own bucket.
	assert.Equal(t, http.StatusOK, hit(h, "globex", ""))
}

func TestRateLimiterIgnoresSpoofedHeader(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	h := limitedHandler(rl)

	assert.Equal(t, http.StatusOK, hit(h, "acme", ""))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "acme", ""))

	// A header claiming the exhausted tenant without an authenticated
	// context lands in the source-address bucket, not acme's.
	assert.Equal(t, http.StatusOK, hit(h, "", "acme"))
}

func TestRateLimiterUnauthenticatedKeyedByAddress(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	h := limitedHandler(rl)

	// httptest requests share a fixed RemoteAddr, so the second
	// unauthenticated call exhausts that address's bucket.
	assert.Equal(t, http.StatusOK, hit(h, "", ""))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "", ""))
}
