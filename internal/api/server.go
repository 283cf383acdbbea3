// Package api exposes the engine over REST/JSON. Serialization is an
// adapter concern: nothing in here leaks into the evaluation core.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentra/backend/internal/engine"
	"github.com/sentra/backend/internal/middleware"
	"github.com/sentra/backend/internal/tenant"
)

// Server exposes the evaluation and policy-admin endpoints.
type Server struct {
	engine  *engine.Engine
	tenants *tenant.Manager
	limiter *middleware.RateLimiter
}

// NewServer creates the HTTP server. tenants may be nil in embedded or
// test setups; tenant auth is then skipped and X-Tenant-ID is trusted.
func NewServer(eng *engine.Engine, tenants *tenant.Manager, limiter *middleware.RateLimiter) *Server {
	return &Server{engine: eng, tenants: tenants, limiter: limiter}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	r.HandleFunc("/api/v1/evaluate", s.guard(s.handleEvaluate)).Methods("POST")

	r.HandleFunc("/api/v1/policies", s.guard(s.handlePutPolicy)).Methods("PUT", "POST")
	r.HandleFunc("/api/v1/policies", s.guard(s.handleListPolicies)).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}", s.guard(s.handleGetPolicy)).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}", s.guard(s.handleDeletePolicy)).Methods("DELETE")
	r.HandleFunc("/api/v1/policies/{id}/history", s.guard(s.handlePolicyHistory)).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}/rollback", s.guard(s.handleRollbackPolicy)).Methods("POST")

	return r
}

// guard wraps a handler with tenant authentication and rate limiting. The
// limiter sits inside the tenant middleware so its key is the authenticated
// tenant, not a spoofable header.
func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	if s.limiter != nil {
		h = s.limiter.Middleware(h).ServeHTTP
	}
	if s.tenants == nil {
		return h
	}
	return middleware.TenantMiddleware(s.tenants, h)
}

// Start listens on the given port and blocks.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("API server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
