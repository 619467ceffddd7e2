package authz

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/session"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	grantKey
)

// WithIdentity stores the authenticated caller in a context.
func WithIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by RequireSession.
func IdentityFromContext(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(session.Identity)
	return id, ok
}

func WithGrant(ctx context.Context, g ledger.Grant) context.Context {
	return context.WithValue(ctx, grantKey, g)
}

// GrantFromContext returns the charge made by RequireEntitlement.
func GrantFromContext(ctx context.Context) (ledger.Grant, bool) {
	g, ok := ctx.Value(grantKey).(ledger.Grant)
	return g, ok
}
