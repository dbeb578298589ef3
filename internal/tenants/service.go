// Package tenants mediates everything tenant-shaped: creation with a
// one-time credential, authentication by digest, revocation, and the
// per-call usage ledger with its offline failover spool.
package tenants

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// ErrUnauthorized covers every failed authentication: unknown key,
// revoked key, inactive tenant. Callers cannot tell which.
var ErrUnauthorized = errors.New("invalid credential")

const credentialPrefix = "ts_"

type Service struct {
	Tenants     data.TenantModel
	Credentials data.CredentialModel
	Usage       data.UsageModel

	spool *usageSpool
}

func NewService(db data.DBTX, usageSpoolPath string) *Service {
	return &Service{
		Tenants:     data.TenantModel{DB: db},
		Credentials: data.CredentialModel{DB: db},
		Usage:       data.UsageModel{DB: db},
		spool:       newUsageSpool(usageSpoolPath),
	}
}

// Digest is the storage form of a credential: SHA-256 hex. O(1)
// lookup, no plaintext at rest.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateCredential mints a tenant API key: "ts_" + 40 hex chars of
// entropy. Returned to the caller exactly once.
func GenerateCredential() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return credentialPrefix + hex.EncodeToString(raw), nil
}

// Create provisions a tenant and its first credential. The plaintext
// credential is returned once and never stored.
func (s *Service) Create(ctx context.Context, name, contactEmail string) (*data.Tenant, string, error) {
	plaintext, err := GenerateCredential()
	if err != nil {
		return nil, "", err
	}

	tenant := &data.Tenant{Name: name, ContactEmail: contactEmail}
	if err := s.Tenants.Insert(ctx, tenant); err != nil {
		return nil, "", fmt.Errorf("insert tenant: %w", err)
	}

	cred := &data.Credential{TenantID: tenant.ID, Digest: Digest(plaintext)}
	if err := s.Credentials.Insert(ctx, cred); err != nil {
		return nil, "", fmt.Errorf("insert credential: %w", err)
	}
	return tenant, plaintext, nil
}

// Authenticate resolves a presented credential to its active tenant.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*data.Tenant, *data.Credential, error) {
	cred, tenant, err := s.Credentials.GetByDigest(ctx, Digest(plaintext))
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	_ = s.Credentials.TouchLastUsed(ctx, cred.ID)
	return tenant, cred, nil
}

// Revoke deactivates the tenant and all its credentials, returning the
// credential count.
func (s *Service) Revoke(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if err := s.Tenants.SetActive(ctx, tenantID, false); err != nil {
		return 0, err
	}
	return s.Credentials.SetActiveByTenant(ctx, tenantID, false)
}

// Reactivate re-enables the tenant and its credentials.
func (s *Service) Reactivate(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if err := s.Tenants.SetActive(ctx, tenantID, true); err != nil {
		return 0, err
	}
	return s.Credentials.SetActiveByTenant(ctx, tenantID, true)
}

// TenantContact satisfies the coordinator's resolver.
func (s *Service) TenantContact(ctx context.Context, id uuid.UUID) (string, string, error) {
	t, err := s.Tenants.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	return t.Name, t.ContactEmail, nil
}

// UsageSummary returns the tenant's per-endpoint aggregates.
func (s *Service) UsageSummary(ctx context.Context, tenantID uuid.UUID) ([]data.EndpointUsage, error) {
	return s.Usage.Summary(ctx, tenantID)
}
