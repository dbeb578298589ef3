// Package middleware is the tenant gate fronting the API: credential
// authentication, admin authentication, request logging, per-tenant
// rate limits, and usage accounting.
package middleware

import (
	"context"

	"github.com/technosupport/ts-sentinel/internal/data"
)

type contextKey string

const (
	tenantContextKey contextKey = "tenant_context"
	usageCostKey     contextKey = "usage_cost"
)

// TenantContext is the authenticated identity attached to every
// tenant-scoped request.
type TenantContext struct {
	Tenant     *data.Tenant
	Credential *data.Credential
}

func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

func GetTenant(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey).(*TenantContext)
	return tc, ok
}
