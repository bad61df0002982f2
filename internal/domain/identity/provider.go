package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/db"
)

// ErrInvalidCredentials is returned by Authenticate for both an unknown email
// and a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Provider owns credentials. Profiles are stored separately, so a Provider
// identity may briefly exist without a users row during registration.
type Provider interface {
	CreateIdentity(ctx context.Context, email, password string) (uuid.UUID, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	Authenticate(ctx context.Context, email, password string) (uuid.UUID, error)
}

// LocalProvider stores bcrypt hashes in auth_identities.
type LocalProvider struct {
	creds CredentialRepository
	cost  int
	dummy []byte
}

func NewLocalProvider(creds CredentialRepository, cost int) *LocalProvider {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("medibook-dummy-password"), cost)
	return &LocalProvider{creds: creds, cost: cost, dummy: dummy}
}

func (p *LocalProvider) CreateIdentity(ctx context.Context, email, password string) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return uuid.Nil, apperr.Validation("password", "password cannot be hashed")
	}
	cred := &Credential{ID: uuid.New(), Email: NormalizeEmail(email), PasswordHash: string(hash)}
	if err := p.creds.Create(ctx, cred); err != nil {
		if db.IsUniqueViolation(err, "auth_identities_email_key") {
			return uuid.Nil, apperr.Conflict(apperr.CodeDuplicate, "email already registered")
		}
		return uuid.Nil, apperr.FromStorage(err, "identity")
	}
	return cred.ID, nil
}

func (p *LocalProvider) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	if err := p.creds.Delete(ctx, id); err != nil {
		return apperr.FromStorage(err, "identity")
	}
	return nil
}

func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	cred, err := p.creds.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if db.IsNoRows(err) {
			// Burn the same time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
			return uuid.Nil, ErrInvalidCredentials
		}
		return uuid.Nil, apperr.FromStorage(err, "identity")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return uuid.Nil, ErrInvalidCredentials
	}
	return cred.ID, nil
}
