package auth

import (
	"context"

	"github.com/google/uuid"
)

// Actor is the verified caller of a service operation. A zero Actor is a
// guest.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsGuest() bool { return a.UserID == uuid.Nil }
func (a Actor) IsAdmin() bool { return !a.IsGuest() && a.Role == RoleAdmin }

// Is reports whether the caller is the given user.
func (a Actor) Is(id uuid.UUID) bool { return !a.IsGuest() && a.UserID == id }

// ActorFromContext builds the Actor set by the auth middleware. Subjects that
// are not UUIDs are treated as guests.
func ActorFromContext(ctx context.Context) Actor {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return Actor{}
	}
	return Actor{UserID: id, Role: RoleFromContext(ctx)}
}
