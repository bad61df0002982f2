package admin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/booking"
	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
)

// Users is the part of the identity service the admin views read.
type Users interface {
	ListUsers(ctx context.Context, role string, limit, offset int) ([]*identity.User, int, error)
	CountUsersByRole(ctx context.Context) (map[string]int, error)
}

// Bookings is the part of the booking service the admin views read.
type Bookings interface {
	Counts(ctx context.Context, actor auth.Actor) (*booking.Counts, error)
	ListAll(ctx context.Context, actor auth.Actor, f booking.ListFilter) ([]*booking.Appointment, int, error)
	ListConflicts(ctx context.Context, actor auth.Actor, limit, offset int) ([]*booking.ConflictLogEntry, int, error)
}

type Service struct {
	users    Users
	bookings Bookings
	logger   zerolog.Logger
}

func NewService(users Users, bookings Bookings, logger zerolog.Logger) *Service {
	return &Service{users: users, bookings: bookings, logger: logger.With().Str("component", "admin").Logger()}
}

func requireAdmin(actor auth.Actor) error {
	if actor.IsGuest() {
		return apperr.Unauthorized("authentication required")
	}
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin role required")
	}
	return nil
}

func (s *Service) Stats(ctx context.Context, actor auth.Actor) (*Stats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.users.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.bookings.Counts(ctx, actor)
	if err != nil {
		return nil, err
	}
	return newStats(users, counts), nil
}

// ListUsers lists accounts newest first, optionally narrowed to one role.
func (s *Service) ListUsers(ctx context.Context, actor auth.Actor, role string, limit, offset int) ([]*identity.User, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, apperr.Validation("role", "invalid role: "+role)
	}
	items, total, err := s.users.ListUsers(ctx, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*identity.User{}
	}
	return items, total, nil
}

func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f booking.ListFilter) ([]*booking.Appointment, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return s.bookings.ListAll(ctx, actor, f)
}

func (s *Service) ListConflicts(ctx context.Context, actor auth.Actor, limit, offset int) ([]*booking.ConflictLogEntry, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return s.bookings.ListConflicts(ctx, actor, limit, offset)
}
