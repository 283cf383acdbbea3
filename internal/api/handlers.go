package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sentra/backend/internal/engine"
	"github.com/sentra/backend/internal/policy"
	"github.com/sentra/backend/internal/registry"
	"github.com/sentra/backend/internal/tenant"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// tenantID prefers the authenticated tenant context, falling back to the
// header when no tenant manager is configured.
func tenantID(r *http.Request) string {
	if id, ok := tenant.FromContext(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Tenant-ID")
}

// ownedPolicy fetches a policy and hides it from other tenants: a policy ID
// belonging to someone else reads as not-found, never as forbidden.
func (s *Server) ownedPolicy(r *http.Request, id string) (*policy.Policy, bool) {
	p, err := s.engine.GetPolicy(id)
	if err != nil {
		return nil, false
	}
	if t := tenantID(r); t != "" && p.TenantID != t {
		return nil, false
	}
	return p, true
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req engine.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// The authenticated tenant always wins over whatever the body claims.
	if id := tenantID(r); id != "" {
		req.TenantID = id
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	dec, err := s.engine.Evaluate(r.Context(), req)
	if err != nil {
		// Anything surfacing here is a configuration error — the
		// server's fault, not the caller's. REJECT and
		// STEP_UP_REQUIRED come back as normal 200 decisions.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body: "+err.Error())
		return
	}
	if id := tenantID(r); id != "" {
		p.TenantID = id
	}
	// Replacing an existing ID is only allowed for its owner; a foreign ID
	// must not be overwritable (or even probeable) across tenants.
	if p.ID != "" {
		if existing, err := s.engine.GetPolicy(p.ID); err == nil {
			if t := tenantID(r); t != "" && existing.TenantID != t {
				writeError(w, http.StatusNotFound, "policy not found")
				return
			}
		}
	}

	res, err := s.engine.PutPolicy(r.Context(), &p, r.Header.Get("X-Actor-ID"))
	if err != nil {
		if errors.Is(err, registry.ErrInvalidPolicy) {
			writeJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validation": res,
		"policy_id":  p.ID,
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := s.ownedPolicy(r, id)
	if !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	t := tenantID(r)
	if t == "" {
		writeError(w, http.StatusBadRequest, "tenant context is required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ListPolicies(t))
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.ownedPolicy(r, id); !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	if err := s.engine.DeletePolicy(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handlePolicyHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.ownedPolicy(r, id); !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.PolicyHistory(id))
}

func (s *Server) handleRollbackPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.ownedPolicy(r, id); !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	var body struct {
		Version int `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rollback body: "+err.Error())
		return
	}
	restored, err := s.engine.RollbackPolicy(r.Context(), id, body.Version, r.Header.Get("X-Actor-ID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, restored)
}
