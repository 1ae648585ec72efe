// Package tenant resolves the calling tenant and user from trusted gateway
// headers and carries them through the request context.
package tenant

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
)

const (
	// HeaderTenantID carries the authenticated tenant UUID.
	HeaderTenantID = "X-Tenant-ID"
	// HeaderUserID carries the authenticated user, when the caller is a person.
	HeaderUserID = "X-User-ID"
)

// Principal identifies who is calling.
type Principal struct {
	TenantID uuid.UUID
	UserID   string
}

type contextKey struct{}

// WithPrincipal adds p to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// IDFromContext returns just the tenant ID.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := FromContext(ctx)
	if !ok || p.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.TenantID, true
}

// LoggerExtractor adds tenant_id to log records.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := IDFromContext(ctx); ok {
			return slog.String("tenant_id", id.String()), true
		}
		return slog.Attr{}, false
	}
}

// AuditActor reports a MERCHANT actor when a user is present and SYSTEM otherwise.
func AuditActor(ctx context.Context) (audit.Actor, bool) {
	p, ok := FromContext(ctx)
	if !ok {
		return audit.Actor{}, false
	}
	if p.UserID != "" {
		return audit.Actor{Type: audit.ActorMerchant, ID: p.UserID}, true
	}
	return audit.Actor{Type: audit.ActorSystem}, true
}
