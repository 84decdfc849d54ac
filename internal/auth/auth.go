// Package auth carries role claims into engine calls. The engine never asks for
// credentials; it only checks the principal supplied by the caller.
package auth

import (
	"context"

	"mixerline/internal/apperr"
)

// Role is a role claim, ordered from least to most privileged.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:     1,
	RoleOperator:   2,
	RoleSupervisor: 3,
	RoleAdmin:      4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Covers reports whether r grants at least the privileges of min.
func (r Role) Covers(min Role) bool {
	return r.Valid() && roleRank[r] >= roleRank[min]
}

// Principal is the authenticated caller of an engine operation.
type Principal struct {
	Subject string
	Role    Role
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal carried by ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Require returns the principal of ctx when its role covers min.
func Require(ctx context.Context, op string, min Role) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, apperr.Forbidden(op, "no role claim supplied")
	}
	if !p.Role.Covers(min) {
		return Principal{}, apperr.Forbidden(op, "role %q cannot perform an operation requiring %q", p.Role, min)
	}
	return p, nil
}
