package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one billable API call. The table is append-only:
// inserts and aggregate reads, nothing else. Billing consumes it
// out-of-band.
type UsageRecord struct {
	ID         uuid.UUID // client-generated, makes spool replay idempotent
	TenantID   uuid.UUID
	Endpoint   string
	Cost       int
	RecordedAt time.Time
}

// EndpointUsage is a per-endpoint aggregate for one tenant.
type EndpointUsage struct {
	Endpoint  string `json:"endpoint"`
	Calls     int64  `json:"calls"`
	TotalCost int64  `json:"total_cost"`
}

type UsageModel struct {
	DB DBTX
}

// Insert appends one record. ON CONFLICT DO NOTHING keeps spool
// replays idempotent under the client-generated id.
func (m UsageModel) Insert(ctx context.Context, r *UsageRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO usage_records (id, tenant_id, endpoint, cost, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	_, err := m.DB.ExecContext(ctx, query, r.ID, r.TenantID, r.Endpoint, r.Cost, r.RecordedAt)
	return err
}

// Summary aggregates the tenant's usage per endpoint.
func (m UsageModel) Summary(ctx context.Context, tenantID uuid.UUID) ([]EndpointUsage, error) {
	query := `
		SELECT endpoint, COUNT(*), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE tenant_id = $1
		GROUP BY endpoint
		ORDER BY endpoint`

	rows, err := m.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EndpointUsage
	for rows.Next() {
		var u EndpointUsage
		if err := rows.Scan(&u.Endpoint, &u.Calls, &u.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
