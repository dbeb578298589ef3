package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID           uuid.UUID
	Name         string
	ContactEmail string
	Active       bool
	CreatedAt    time.Time
}

type TenantModel struct {
	DB DBTX
}

// Insert creates a tenant. Tenants are only ever created through the
// admin surface, never implicitly by ingest.
func (m TenantModel) Insert(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, contact_email, active)
		VALUES ($1, $2, $3, true)
		RETURNING created_at`
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Active = true
	return m.DB.QueryRowContext(ctx, query, t.ID, t.Name, t.ContactEmail).Scan(&t.CreatedAt)
}

func (m TenantModel) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `
		SELECT id, name, COALESCE(contact_email, ''), active, created_at
		FROM tenants
		WHERE id = $1`
	var t Tenant
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.ContactEmail, &t.Active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetActive flips the tenant's active flag.
func (m TenantModel) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE tenants SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
