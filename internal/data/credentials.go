package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Credential is one tenant API key, stored only as a SHA-256 digest.
// The plaintext exists in the system transiently during creation and
// verification.
type Credential struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Digest    string
	Active    bool
	CreatedAt time.Time
}

type CredentialModel struct {
	DB DBTX
}

func (m CredentialModel) Insert(ctx context.Context, c *Credential) error {
	query := `
		INSERT INTO credentials (id, tenant_id, digest, active)
		VALUES ($1, $2, $3, true)
		RETURNING created_at`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	return m.DB.QueryRowContext(ctx, query, c.ID, c.TenantID, c.Digest).Scan(&c.CreatedAt)
}

// GetByDigest resolves a presented credential to its tenant. Only
// active credentials of active tenants authenticate; anything else is
// ErrRecordNotFound, indistinguishable from an unknown key.
func (m CredentialModel) GetByDigest(ctx context.Context, digest string) (*Credential, *Tenant, error) {
	query := `
		SELECT c.id, c.tenant_id, c.digest, c.active, c.created_at,
		       t.id, t.name, COALESCE(t.contact_email, ''), t.active, t.created_at
		FROM credentials c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE c.digest = $1 AND c.active = true AND t.active = true`

	var c Credential
	var t Tenant
	err := m.DB.QueryRowContext(ctx, query, digest).Scan(
		&c.ID, &c.TenantID, &c.Digest, &c.Active, &c.CreatedAt,
		&t.ID, &t.Name, &t.ContactEmail, &t.Active, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &c, &t, nil
}

// SetActiveByTenant flips every credential of a tenant, returning how
// many changed.
func (m CredentialModel) SetActiveByTenant(ctx context.Context, tenantID uuid.UUID, active bool) (int64, error) {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE credentials SET active = $1 WHERE tenant_id = $2 AND active = $3`,
		active, tenantID, !active,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TouchLastUsed stamps the credential. Best-effort; callers ignore
// the error.
func (m CredentialModel) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE credentials SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}
