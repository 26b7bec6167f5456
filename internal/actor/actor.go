package actor

import (
	"context"

	"github.com/google/uuid"
)

// Role is the platform role an actor authenticates with.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAgency     Role = "agency"
	RoleBank       Role = "bank"
	RoleCommercial Role = "commercial"
	RoleNotary     Role = "notary"
	RoleClient     Role = "client"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgency, RoleBank, RoleCommercial, RoleNotary, RoleClient:
		return true
	}

	return false
}

// Actor identifies who performs a mutating operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Is reports whether the actor holds one of the given roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}

	return false
}

type ctxKey struct{}

// WithActor stores the resolved actor on the request context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor set by the auth middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
