package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	CountByRole(ctx context.Context) (map[string]int, error)
	Contacts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Contact, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
	Specializations(ctx context.Context) ([]string, error)
	Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type CredentialRepository interface {
	Create(ctx context.Context, c *Credential) error
	GetByEmail(ctx context.Context, email string) (*Credential, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
