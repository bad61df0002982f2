package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestActorFromContext(t *testing.T) {
	id := uuid.New()
	ctx := WithIdentity(context.Background(), id.String(), RoleDoctor, "jti", time.Now())

	a := ActorFromContext(ctx)
	if a.UserID != id || a.Role != RoleDoctor {
		t.Fatalf("unexpected actor %+v", a)
	}
	if a.IsGuest() || a.IsAdmin() {
		t.Error("doctor is neither guest nor admin")
	}
	if !a.Is(id) || a.Is(uuid.New()) {
		t.Error("Is must match only the caller's id")
	}
}

func TestActorFromContext_Guest(t *testing.T) {
	if a := ActorFromContext(context.Background()); !a.IsGuest() {
		t.Errorf("expected guest, got %+v", a)
	}
	ctx := WithIdentity(context.Background(), "not-a-uuid", RoleAdmin, "", time.Time{})
	if a := ActorFromContext(ctx); !a.IsGuest() || a.IsAdmin() {
		t.Errorf("non-uuid subject must be a guest, got %+v", a)
	}
	var zero Actor
	if zero.Is(uuid.Nil) {
		t.Error("guest must not match the nil id")
	}
}
