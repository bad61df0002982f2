package booking

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var apptRowCols = []string{
	"id", "patient_id", "doctor_id", "appointment_date", "appointment_time",
	"status", "reason_for_visit", "consultation_mode", "notes",
	"guest_name", "guest_email", "guest_phone", "created_at", "updated_at",
}

func apptRow(rows *pgxmock.Rows, id uuid.UUID, patientID *uuid.UUID, doctorID uuid.UUID, status string) *pgxmock.Rows {
	now := time.Now()
	return rows.AddRow(id, patientID, doctorID, "2025-06-01", "10:00",
		status, "Headache", ModeInPerson, (*string)(nil),
		(*string)(nil), (*string)(nil), (*string)(nil), now, now)
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAppointmentRepoPG_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	now := time.Now()
	pid := uuid.New()

	a := &Appointment{PatientID: &pid, DoctorID: uuid.New(), AppointmentDate: "2025-06-01", AppointmentTime: "10:00",
		Status: StatusPending, ReasonForVisit: "Headache", ConsultationMode: ModeInPerson}
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), a.PatientID, a.DoctorID, "2025-06-01", "10:00",
			StatusPending, "Headache", ModeInPerson, a.Notes, a.GuestName, a.GuestEmail, a.GuestPhone).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, now, a.CreatedAt)
}

func TestAppointmentRepoPG_Create_SlotTaken(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(12)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: liveSlotConstraint})

	err := repo.Create(context.Background(), &Appointment{DoctorID: uuid.New()})
	assert.True(t, errors.Is(err, ErrSlotTaken))
}

func TestAppointmentRepoPG_Create_OtherUniqueIsNotSlotTaken(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(12)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_pkey"})

	err := repo.Create(context.Background(), &Appointment{DoctorID: uuid.New()})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSlotTaken))
}

func TestAppointmentRepoPG_GetByID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	id, pid, did := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(apptRow(pgxmock.NewRows(apptRowCols), id, &pid, did, StatusPending))

	a, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	require.NotNil(t, a.PatientID)
	assert.Equal(t, pid, *a.PatientID)
	assert.Equal(t, "2025-06-01", a.AppointmentDate)
	assert.Equal(t, "10:00", a.AppointmentTime)
	assert.False(t, a.IsGuest())
}

func TestAppointmentRepoPG_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
}

func TestAppointmentRepoPG_UpdateStatus(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	id, pid, did := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs(id, StatusPending, StatusConfirmed).
		WillReturnRows(apptRow(pgxmock.NewRows(apptRowCols), id, &pid, did, StatusConfirmed))

	a, err := repo.UpdateStatus(context.Background(), id, StatusPending, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)
}

func TestAppointmentRepoPG_UpdateStatus_Changed(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs(id, StatusPending, StatusConfirmed).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusPending, StatusConfirmed)
	assert.True(t, errors.Is(err, ErrStatusChanged))
}

func TestAppointmentRepoPG_ListBookedTimes(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	did := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("status <> 'cancelled'")).
		WithArgs(did, "2025-06-01").
		WillReturnRows(pgxmock.NewRows([]string{"to_char"}).AddRow("09:00").AddRow("15:30"))

	times, err := repo.ListBookedTimes(context.Background(), did, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "15:30"}, times)
}

func TestAppointmentRepoPG_ListByDoctor_IncludesGuests(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)
	did, pid := uuid.New(), uuid.New()
	now := time.Now()
	name, email, phone := "Gary", "gary@example.com", "555"

	rows := apptRow(pgxmock.NewRows(apptRowCols), uuid.New(), &pid, did, StatusPending).
		AddRow(uuid.New(), (*uuid.UUID)(nil), did, "2025-06-02", "14:00",
			StatusPending, "Checkup", ModeOnline, (*string)(nil), &name, &email, &phone, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE doctor_id = $1 ORDER BY appointment_date, appointment_time")).
		WithArgs(did).
		WillReturnRows(rows)

	items, err := repo.ListByDoctor(context.Background(), did)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[0].IsGuest())
	assert.True(t, items[1].IsGuest())
	assert.Equal(t, "gary@example.com", *items[1].GuestEmail)
}

func TestAppointmentRepoPG_List_WithStatus(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM appointments WHERE status = $1")).
		WithArgs(StatusCancelled).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2 OFFSET $3")).
		WithArgs(StatusCancelled, 20, 40).
		WillReturnRows(pgxmock.NewRows(apptRowCols))

	items, total, err := repo.List(context.Background(), ListFilter{Status: StatusCancelled, Limit: 20, Offset: 40})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, items)
}

func TestAppointmentRepoPG_CountByStatus(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAppointmentRepoPG(mock)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow(StatusPending, 4).AddRow(StatusCompleted, 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusPending: 4, StatusCompleted: 1}, counts)
}

func TestConflictLogRepoPG_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewConflictLogRepoPG(mock)
	now := time.Now()

	e := &ConflictLogEntry{
		DoctorID: uuid.New(),
		Detail:   ConflictDetail{AttemptedDate: "2025-06-01", AttemptedTime: "10:00", Guest: true, Timestamp: now.UTC()},
	}
	detail, err := json.Marshal(e.Detail)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO appointment_conflicts_log").
		WithArgs(pgxmock.AnyArg(), e.DoctorID, detail).
		WillReturnRows(pgxmock.NewRows([]string{"attempted_at"}).AddRow(now))

	require.NoError(t, repo.Create(context.Background(), e))
	assert.Equal(t, now, e.AttemptedAt)
}

func TestConflictLogRepoPG_List(t *testing.T) {
	mock := newMockPool(t)
	repo := NewConflictLogRepoPG(mock)
	now := time.Now()
	did := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM appointment_conflicts_log")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY attempted_at DESC LIMIT $1 OFFSET $2")).
		WithArgs(10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "doctor_id", "attempted_at", "conflicting_appointments"}).
			AddRow(uuid.New(), did, now, []byte(`{"attempted_date":"2025-06-01","attempted_time":"10:00","guest":false,"timestamp":"2025-05-20T10:00:00Z"}`)))

	items, total, err := repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, did, items[0].DoctorID)
	assert.Equal(t, "10:00", items[0].Detail.AttemptedTime)
}

func TestConflictLogRepoPG_Prune(t *testing.T) {
	mock := newMockPool(t)
	repo := NewConflictLogRepoPG(mock)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM appointment_conflicts_log WHERE attempted_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
