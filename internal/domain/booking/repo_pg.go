package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medibook/medibook/internal/platform/db"
)

// liveSlotConstraint is the partial unique index over non-cancelled
// appointments.
const liveSlotConstraint = "appointments_live_slot_key"

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Queryable }

func NewAppointmentRepoPG(pool db.Queryable) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	status, reason_for_visit, consultation_mode, notes,
	guest_name, guest_email, guest_phone, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID,
		&a.AppointmentDate, &a.AppointmentTime,
		&a.Status, &a.ReasonForVisit, &a.ConsultationMode, &a.Notes,
		&a.GuestName, &a.GuestEmail, &a.GuestPhone, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) scanAll(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// Create inserts a and relies on appointments_live_slot_key to reject a
// second live booking of the same slot.
func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, appointment_time,
			status, reason_for_visit, consultation_mode, notes, guest_name, guest_email, guest_phone)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.AppointmentTime,
		a.Status, a.ReasonForVisit, a.ConsultationMode, a.Notes, a.GuestName, a.GuestEmail, a.GuestPhone).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, liveSlotConstraint) {
			return fmt.Errorf("insert appointment: %w", ErrSlotTaken)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// UpdateStatus moves id from one status to another only if it still has the
// expected status.
func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, from, to))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("update appointment status: %w", ErrStatusChanged)
		}
		if db.IsUniqueViolation(err, liveSlotConstraint) {
			return nil, fmt.Errorf("update appointment status: %w", ErrSlotTaken)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI') FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status <> 'cancelled'`,
		doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan booked time: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 ORDER BY appointment_date, appointment_time`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return r.scanAll(rows)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 ORDER BY appointment_date, appointment_time`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return r.scanAll(rows)
}

// List returns appointments newest first for the admin view.
func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	where := ``
	args := []interface{}{}
	if f.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM appointments%s
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`,
		apptCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count appointments by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =========== Conflict Log Repository ===========

type conflictLogRepoPG struct{ pool db.Queryable }

func NewConflictLogRepoPG(pool db.Queryable) ConflictLogRepository {
	return &conflictLogRepoPG{pool: pool}
}

func (r *conflictLogRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *conflictLogRepoPG) Create(ctx context.Context, e *ConflictLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode conflict detail: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_conflicts_log (id, doctor_id, conflicting_appointments)
		VALUES ($1, $2, $3)
		RETURNING attempted_at`,
		e.ID, e.DoctorID, detail).Scan(&e.AttemptedAt)
	if err != nil {
		return fmt.Errorf("insert conflict log: %w", err)
	}
	return nil
}

func (r *conflictLogRepoPG) List(ctx context.Context, limit, offset int) ([]*ConflictLogEntry, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, attempted_at, conflicting_appointments
		FROM appointment_conflicts_log
		ORDER BY attempted_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conflict log: %w", err)
	}
	defer rows.Close()

	var items []*ConflictLogEntry
	for rows.Next() {
		var e ConflictLogEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.DoctorID, &e.AttemptedAt, &detail); err != nil {
			return nil, 0, fmt.Errorf("scan conflict log: %w", err)
		}
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, 0, fmt.Errorf("decode conflict detail: %w", err)
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func (r *conflictLogRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment_conflicts_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conflict log: %w", err)
	}
	return n, nil
}

func (r *conflictLogRepoPG) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment_conflicts_log WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune conflict log: %w", err)
	}
	return tag.RowsAffected(), nil
}
