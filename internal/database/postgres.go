// Package database persists policies and tenants in Postgres. The registry
// owns the in-memory snapshots; this package is only the durable backing
// store loaded at startup and written through on admin changes.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sentra/backend/internal/policy"
)

// Store wraps the Postgres connection with all persistence operations.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS auth_policies (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	name               TEXT NOT NULL,
	type               TEXT NOT NULL,
	rules              JSONB NOT NULL,
	user_types         TEXT[] NOT NULL DEFAULT '{}',
	security_profiles  TEXT[] NOT NULL DEFAULT '{}',
	regions            TEXT[] NOT NULL DEFAULT '{}',
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	priority           INTEGER NOT NULL DEFAULT 100,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS auth_policies_tenant_idx ON auth_policies (tenant_id);

CREATE TABLE IF NOT EXISTS tenants (
	tenant_id   TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tenant_api_keys (
	key_id      TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(tenant_id),
	key_hash    TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tenant_api_keys_tenant_idx ON tenant_api_keys (tenant_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ── Policies ──

// UpsertPolicy writes a policy row, replacing any previous body.
func (s *Store) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules for policy %s: %w", p.ID, err)
	}
	const q = `
INSERT INTO auth_policies (id, tenant_id, name, type, rules, user_types, security_profiles, regions, enabled, priority, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	rules = EXCLUDED.rules,
	user_types = EXCLUDED.user_types,
	security_profiles = EXCLUDED.security_profiles,
	regions = EXCLUDED.regions,
	enabled = EXCLUDED.enabled,
	priority = EXCLUDED.priority,
	updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, q,
		p.ID, p.TenantID, p.Name, string(p.Type), rules,
		pq.Array(p.AppliesToUserTypes), pq.Array(p.AppliesToSecurityProfiles), pq.Array(p.AppliesToRegions),
		p.Enabled, p.Priority, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a policy row.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_policies WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	return nil
}

// LoadPolicies reads every policy row, for seeding the registry at startup.
func (s *Store) LoadPolicies(ctx context.Context) ([]*policy.Policy, error) {
	const q = `
SELECT id, tenant_id, name, type, rules, user_types, security_profiles, regions, enabled, priority, created_at, updated_at
FROM auth_policies ORDER BY tenant_id, priority, name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		var (
			p         policy.Policy
			typ       string
			rulesJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &typ, &rulesJSON,
			pq.Array(&p.AppliesToUserTypes), pq.Array(&p.AppliesToSecurityProfiles), pq.Array(&p.AppliesToRegions),
			&p.Enabled, &p.Priority, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		p.Type = policy.PolicyType(typ)
		if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules for policy %s: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ── Tenants ──

// Tenant is a tenant organization row.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// GetTenant returns a tenant row, or nil when none exists.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	const q = `SELECT tenant_id, name, status, created_at FROM tenants WHERE tenant_id = $1`
	var t Tenant
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&t.TenantID, &t.Name, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

// UpsertTenant writes a tenant row.
func (s *Store) UpsertTenant(ctx context.Context, t *Tenant) error {
	const q = `
INSERT INTO tenants (tenant_id, name, status, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status`
	if _, err := s.db.ExecContext(ctx, q, t.TenantID, t.Name, t.Status, t.CreatedAt); err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.TenantID, err)
	}
	return nil
}

// APIKey is a tenant API key row; the secret is stored only as a bcrypt
// hash.
type APIKey struct {
	KeyID     string    `json:"key_id"`
	TenantID  string    `json:"tenant_id"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertAPIKey writes a new API key row.
func (s *Store) InsertAPIKey(ctx context.Context, k *APIKey) error {
	const q = `
INSERT INTO tenant_api_keys (key_id, tenant_id, key_hash, name, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, q, k.KeyID, k.TenantID, k.KeyHash, k.Name, k.IsActive, k.CreatedAt); err != nil {
		return fmt.Errorf("insert api key %s: %w", k.KeyID, err)
	}
	return nil
}

// GetAPIKey returns an API key row by key ID, or nil when none exists.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	const q = `SELECT key_id, tenant_id, key_hash, name, is_active, created_at FROM tenant_api_keys WHERE key_id = $1`
	var k APIKey
	err := s.db.QueryRowContext(ctx, q, keyID).Scan(&k.KeyID, &k.TenantID, &k.KeyHash, &k.Name, &k.IsActive, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key %s: %w", keyID, err)
	}
	return &k, nil
}
