package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/booking"
	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
)

// -- Mocks --

type mockUsers struct {
	users    []*identity.User
	countErr error
}

func (m *mockUsers) ListUsers(_ context.Context, role string, limit, offset int) ([]*identity.User, int, error) {
	var out []*identity.User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockUsers) CountUsersByRole(context.Context) (map[string]int, error) {
	if m.countErr != nil {
		return nil, m.countErr
	}
	counts := make(map[string]int)
	for _, u := range m.users {
		counts[u.Role]++
	}
	return counts, nil
}

type mockBookings struct {
	counts    *booking.Counts
	appts     []*booking.Appointment
	conflicts []*booking.ConflictLogEntry
	lastF     booking.ListFilter
}

func (m *mockBookings) Counts(context.Context, auth.Actor) (*booking.Counts, error) {
	return m.counts, nil
}

func (m *mockBookings) ListAll(_ context.Context, _ auth.Actor, f booking.ListFilter) ([]*booking.Appointment, int, error) {
	m.lastF = f
	return m.appts, len(m.appts), nil
}

func (m *mockBookings) ListConflicts(context.Context, auth.Actor, int, int) ([]*booking.ConflictLogEntry, int, error) {
	return m.conflicts, len(m.conflicts), nil
}

var adminActor = auth.Actor{UserID: uuid.New(), Role: auth.RoleAdmin}

func newTestService() (*Service, *mockUsers, *mockBookings) {
	users := &mockUsers{users: []*identity.User{
		{ID: uuid.New(), Email: "a@x.io", Role: auth.RoleAdmin},
		{ID: uuid.New(), Email: "d1@x.io", Role: auth.RoleDoctor},
		{ID: uuid.New(), Email: "d2@x.io", Role: auth.RoleDoctor},
		{ID: uuid.New(), Email: "p1@x.io", Role: auth.RolePatient},
		{ID: uuid.New(), Email: "p2@x.io", Role: auth.RolePatient},
		{ID: uuid.New(), Email: "p3@x.io", Role: auth.RolePatient},
	}}
	bookings := &mockBookings{
		counts: &booking.Counts{
			ByStatus: map[string]int{
				booking.StatusPending:   4,
				booking.StatusConfirmed: 3,
				booking.StatusCompleted: 2,
				booking.StatusCancelled: 1,
			},
			Total:     10,
			Conflicts: 7,
		},
		appts:     []*booking.Appointment{{ID: uuid.New(), Status: booking.StatusPending}},
		conflicts: []*booking.ConflictLogEntry{{ID: uuid.New(), DoctorID: uuid.New(), AttemptedAt: time.Now()}},
	}
	return NewService(users, bookings, zerolog.Nop()), users, bookings
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService()
	s, err := svc.Stats(context.Background(), adminActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Stats{
		TotalUsers: 6, TotalDoctors: 2, TotalPatients: 3,
		TotalAppointments: 10, PendingAppointments: 4, ConfirmedAppointments: 3,
		CompletedAppointments: 2, CancelledAppointments: 1, Conflicts: 7,
	}
	if *s != want {
		t.Errorf("got %+v, want %+v", *s, want)
	}
}

func TestStats_PropagatesFailure(t *testing.T) {
	svc, users, _ := newTestService()
	users.countErr = apperr.Upstream("storage error while accessing user", errors.New("down"))
	_, err := svc.Stats(context.Background(), adminActor)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestAdminOnly(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	doctor := auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor}

	if _, err := svc.Stats(ctx, doctor); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("stats: expected forbidden, got %v", err)
	}
	if _, _, err := svc.ListUsers(ctx, auth.Actor{}, "", 20, 0); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("users: expected unauthorized, got %v", err)
	}
	if _, _, err := svc.ListAppointments(ctx, doctor, booking.ListFilter{}); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("appointments: expected forbidden, got %v", err)
	}
	if _, _, err := svc.ListConflicts(ctx, doctor, 20, 0); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("conflicts: expected forbidden, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	items, total, err := svc.ListUsers(ctx, adminActor, auth.RolePatient, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 2 of 3 patients, got %d of %d", len(items), total)
	}

	items, _, err = svc.ListUsers(ctx, adminActor, "", 20, 100)
	if err != nil || items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil page, got %v (%v)", items, err)
	}

	_, _, err = svc.ListUsers(ctx, adminActor, "nurse", 20, 0)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListAppointments_PassesFilter(t *testing.T) {
	svc, _, bookings := newTestService()
	f := booking.ListFilter{Status: booking.StatusPending, Limit: 5, Offset: 10}
	items, total, err := svc.ListAppointments(context.Background(), adminActor, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("unexpected result %d/%d", len(items), total)
	}
	if bookings.lastF != f {
		t.Errorf("filter not forwarded: %+v", bookings.lastF)
	}
}
