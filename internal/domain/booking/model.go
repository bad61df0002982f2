package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Consultation modes.
const (
	ModeInPerson = "in-person"
	ModeOnline   = "online"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// SlotUnavailableMessage is returned to callers whose slot was taken.
const SlotUnavailableMessage = "This time slot is no longer available. Please choose another time."

// Slots is the fixed set of bookable half-hour start times. 12:00-14:00 is
// lunch.
var Slots = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00", "17:30",
}

var slotSet = func() map[string]bool {
	m := make(map[string]bool, len(Slots))
	for _, s := range Slots {
		m[s] = true
	}
	return m
}()

// IsSlot reports whether t is one of the bookable start times.
func IsSlot(t string) bool { return slotSet[t] }

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true,
}

func ValidStatus(s string) bool { return validStatuses[s] }

var transitions = map[string]map[string]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusCompleted: true, StatusCancelled: true},
}

// CanTransition reports whether from -> to is a legal status change.
// completed and cancelled are terminal.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	return transitions[from][to]
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	return len(transitions[s]) == 0
}

var validModes = map[string]bool{ModeInPerson: true, ModeOnline: true}

// Appointment maps to the appointments table. Date and time are kept in
// their wire forms, YYYY-MM-DD and HH:MM.
type Appointment struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID         uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AppointmentDate  string     `db:"appointment_date" json:"appointment_date"`
	AppointmentTime  string     `db:"appointment_time" json:"appointment_time"`
	Status           string     `db:"status" json:"status"`
	ReasonForVisit   string     `db:"reason_for_visit" json:"reason_for_visit"`
	ConsultationMode string     `db:"consultation_mode" json:"consultation_mode"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	GuestName        *string    `db:"guest_name" json:"guest_name,omitempty"`
	GuestEmail       *string    `db:"guest_email" json:"guest_email,omitempty"`
	GuestPhone       *string    `db:"guest_phone" json:"guest_phone,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// Filled by enrichment, never stored.
	DoctorName   string  `json:"doctor_name,omitempty"`
	PatientName  string  `json:"patient_name,omitempty"`
	PatientPhone *string `json:"patient_phone,omitempty"`
}

// IsGuest reports whether the appointment came from the guest flow.
func (a *Appointment) IsGuest() bool { return a.PatientID == nil }

// ConflictDetail is stored as JSONB in conflicting_appointments.
type ConflictDetail struct {
	AttemptedDate string     `json:"attempted_date"`
	AttemptedTime string     `json:"attempted_time"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	Guest         bool       `json:"guest"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ConflictLogEntry maps to appointment_conflicts_log.
type ConflictLogEntry struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	DoctorID    uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	AttemptedAt time.Time      `db:"attempted_at" json:"attempted_at"`
	Detail      ConflictDetail `db:"conflicting_appointments" json:"conflicting_appointments"`
}

// Slot is one entry of an availability listing.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// BookingRequest is an authenticated booking. PatientID is honoured only for
// admins; everyone else books for themselves.
type BookingRequest struct {
	PatientID        uuid.UUID `json:"patient_id"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	Date             string    `json:"appointment_date"`
	Time             string    `json:"appointment_time"`
	Reason           string    `json:"reason_for_visit"`
	ConsultationMode string    `json:"consultation_mode"`
	Notes            *string   `json:"notes,omitempty"`
}

// GuestBookingRequest is a booking without an account.
type GuestBookingRequest struct {
	GuestName        string    `json:"guestName"`
	GuestEmail       string    `json:"guestEmail"`
	GuestPhone       string    `json:"guestPhone"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	Date             string    `json:"appointment_date"`
	Time             string    `json:"appointment_time"`
	Reason           string    `json:"reason"`
	ConsultationMode string    `json:"consultation_mode"`
}

// slotRequest is the part shared by both booking paths.
type slotRequest struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
	Reason   string
	Mode     string
}

func (r *slotRequest) normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.Reason = strings.TrimSpace(r.Reason)
	r.Mode = strings.TrimSpace(r.Mode)
	if r.Mode == "" {
		r.Mode = ModeInPerson
	}
	// Accept HH:MM:SS as sent by clients that echo the column back.
	if len(r.Time) == len("15:04:05") && strings.HasSuffix(r.Time, ":00") {
		r.Time = r.Time[:5]
	}
}

// Window bounds the dates that may be booked, relative to today.
type Window struct {
	MinLeadDays int
	Days        int
}

func (w Window) bounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, w.MinLeadDays), today.AddDate(0, 0, w.Days)
}

// Contains reports whether date falls within the window around now.
func (w Window) Contains(date, now time.Time) bool {
	first, last := w.bounds(now)
	return !date.Before(first) && !date.After(last)
}

func (w Window) describe(now time.Time) string {
	first, last := w.bounds(now)
	return fmt.Sprintf("appointment_date must be between %s and %s", first.Format(dateLayout), last.Format(dateLayout))
}

// StatusRequest is the body of a status change.
type StatusRequest struct {
	Status string `json:"status"`
}

// ListFilter narrows the admin appointment listing.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
