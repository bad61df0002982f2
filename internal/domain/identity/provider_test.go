package identity

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/medibook/medibook/internal/platform/apperr"
)

func TestLocalProvider_CreateAndAuthenticate(t *testing.T) {
	creds := newMockCredentialRepo()
	p := NewLocalProvider(creds, bcrypt.MinCost)
	ctx := context.Background()

	id, err := p.CreateIdentity(ctx, "Carol@Example.com", "password123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, _ := creds.GetByEmail(ctx, "carol@example.com")
	if stored == nil || stored.PasswordHash == "password123" {
		t.Fatal("expected a hashed credential stored under the normalized email")
	}

	got, err := p.Authenticate(ctx, "carol@example.com", "password123")
	if err != nil || got != id {
		t.Fatalf("authenticate: id=%s err=%v", got, err)
	}
	if _, err := p.Authenticate(ctx, "carol@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := p.Authenticate(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLocalProvider_Duplicate(t *testing.T) {
	p := NewLocalProvider(newMockCredentialRepo(), bcrypt.MinCost)
	ctx := context.Background()
	if _, err := p.CreateIdentity(ctx, "dup@example.com", "password123"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := p.CreateIdentity(ctx, "dup@example.com", "password123")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLocalProvider_Delete(t *testing.T) {
	creds := newMockCredentialRepo()
	p := NewLocalProvider(creds, bcrypt.MinCost)
	ctx := context.Background()
	id, _ := p.CreateIdentity(ctx, "gone@example.com", "password123")
	if err := p.DeleteIdentity(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.Authenticate(ctx, "gone@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected deleted identity to fail authentication, got %v", err)
	}
}
