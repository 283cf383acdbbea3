// Package tenant manages tenant organizations and their API keys. Keys are
// issued once in plaintext and stored only as bcrypt hashes.
package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra/backend/internal/database"
)

// keyPrefix marks API keys issued by this service:
// "sentra_<key id>_<secret>".
const keyPrefix = "sentra_"

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is not active")
	ErrInvalidAPIKey  = errors.New("invalid API key")
)

// Store is the persistence surface the manager needs; satisfied by
// database.Store.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*database.Tenant, error)
	UpsertTenant(ctx context.Context, t *database.Tenant) error
	InsertAPIKey(ctx context.Context, k *database.APIKey) error
	GetAPIKey(ctx context.Context, keyID string) (*database.APIKey, error)
}

// Manager validates tenants and API keys for the HTTP surface.
type Manager struct {
	store Store
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// LoadTenant fetches a tenant and verifies it is active.
func (m *Manager) LoadTenant(ctx context.Context, tenantID string) (*database.Tenant, error) {
	t, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	if t.Status != "active" {
		return nil, ErrTenantInactive
	}
	return t, nil
}

// CreateTenant registers a tenant as active.
func (m *Manager) CreateTenant(ctx context.Context, tenantID, name string) (*database.Tenant, error) {
	t := &database.Tenant{
		TenantID:  tenantID,
		Name:      name,
		Status:    "active",
		CreatedAt: time.Now(),
	}
	if err := m.store.UpsertTenant(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// IssueAPIKey generates a new API key for a tenant and returns the
// plaintext key. The plaintext is never stored and cannot be recovered.
func (m *Manager) IssueAPIKey(ctx context.Context, tenantID, name string) (string, error) {
	if _, err := m.LoadTenant(ctx, tenantID); err != nil {
		return "", err
	}

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generate api key secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)
	keyID := uuid.New().String()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	if err := m.store.InsertAPIKey(ctx, &database.APIKey{
		KeyID:     keyID,
		TenantID:  tenantID,
		KeyHash:   string(hash),
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", err
	}
	return keyPrefix + keyID + "_" + secret, nil
}

// ValidateAPIKey checks a presented key against the stored hash and returns
// the owning tenant.
func (m *Manager) ValidateAPIKey(ctx context.Context, apiKey string) (*database.Tenant, error) {
	if !strings.HasPrefix(apiKey, keyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	rest := strings.TrimPrefix(apiKey, keyPrefix)
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return nil, ErrInvalidAPIKey
	}
	keyID, secret := rest[:idx], rest[idx+1:]

	rec, err := m.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.IsActive {
		return nil, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.KeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	return m.LoadTenant(ctx, rec.TenantID)
}
