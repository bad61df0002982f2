package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSlotTaken is returned by AppointmentRepository.Create when a live
	// appointment already holds the slot.
	ErrSlotTaken = errors.New("slot already booked")
	// ErrStatusChanged is returned by UpdateStatus when the row no longer has
	// the expected status.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error)
	ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type ConflictLogRepository interface {
	Create(ctx context.Context, e *ConflictLogEntry) error
	List(ctx context.Context, limit, offset int) ([]*ConflictLogEntry, int, error)
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}
