package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/metrics"
	"github.com/medibook/medibook/internal/platform/notify"
)

var tracer = otel.Tracer("medibook.internal.booking")

// Directory resolves doctors and users. *identity.Service satisfies it.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
	DoctorNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	Contacts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.Contact, error)
}

// Notifier delivers email out of band. *notify.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(msg notify.EmailMessage)
}

// Booking kinds used as metric labels.
const (
	kindPatient = "patient"
	kindGuest   = "guest"
)

type Service struct {
	appointments AppointmentRepository
	conflicts    ConflictLogRepository
	directory    Directory
	limiter      ConflictLimiter
	notifier     Notifier
	metrics      *metrics.BookingMetrics
	logger       zerolog.Logger
	window       Window
	storeTimeout time.Duration
	now          func() time.Time
}

type Options struct {
	Appointments AppointmentRepository
	Conflicts    ConflictLogRepository
	Directory    Directory
	Limiter      ConflictLimiter
	Notifier     Notifier
	Metrics      *metrics.BookingMetrics
	Logger       zerolog.Logger
	Window       Window
	StoreTimeout time.Duration
	Now          func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		appointments: opts.Appointments,
		conflicts:    opts.Conflicts,
		directory:    opts.Directory,
		limiter:      opts.Limiter,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "booking").Logger(),
		window:       opts.Window,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.window.Days <= 0 {
		s.window.Days = 60
	}
	return s
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// -- Booking --

func (s *Service) validate(r *slotRequest, reasonField string) error {
	r.normalize()
	if r.DoctorID == uuid.Nil {
		return apperr.Validation("doctor_id", "doctor_id is required")
	}
	if r.Date == "" {
		return apperr.Validation("appointment_date", "appointment_date is required")
	}
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return apperr.Validation("appointment_date", "appointment_date must be YYYY-MM-DD")
	}
	if r.Time == "" {
		return apperr.Validation("appointment_time", "appointment_time is required")
	}
	if !IsSlot(r.Time) {
		return apperr.Validation("appointment_time", "appointment_time must be one of "+strings.Join(Slots, ", "))
	}
	if r.Reason == "" {
		return apperr.Validation(reasonField, reasonField+" is required")
	}
	if !validModes[r.Mode] {
		return apperr.Validation("consultation_mode", "consultation_mode must be in-person or online")
	}
	now := s.now()
	if !s.window.Contains(date, now) {
		return apperr.Validation("appointment_date", s.window.describe(now))
	}
	return nil
}

// BookSlot books a slot for a patient. Patients always book for themselves;
// admins book on behalf of req.PatientID.
func (s *Service) BookSlot(ctx context.Context, actor auth.Actor, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.book_slot")
	defer span.End()
	span.SetAttributes(attribute.String("booking.doctor_id", req.DoctorID.String()))

	start := time.Now()
	patientID, err := bookingPatient(actor, req.PatientID)
	if err != nil {
		s.metrics.ObserveAttempt(kindPatient, metrics.OutcomeInvalid, time.Since(start))
		return nil, fail(span, err)
	}

	sr := slotRequest{DoctorID: req.DoctorID, Date: req.Date, Time: req.Time, Reason: req.Reason, Mode: req.ConsultationMode}
	if err := s.validate(&sr, "reason_for_visit"); err != nil {
		s.metrics.ObserveAttempt(kindPatient, metrics.OutcomeInvalid, time.Since(start))
		return nil, fail(span, err)
	}

	a := &Appointment{
		PatientID:        &patientID,
		DoctorID:         sr.DoctorID,
		AppointmentDate:  sr.Date,
		AppointmentTime:  sr.Time,
		ReasonForVisit:   sr.Reason,
		ConsultationMode: sr.Mode,
		Notes:            trimmed(req.Notes),
	}
	if _, err := s.insert(ctx, kindPatient, a, start); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("booking.appointment_id", a.ID.String()))
	return a, nil
}

func bookingPatient(actor auth.Actor, requested uuid.UUID) (uuid.UUID, error) {
	switch {
	case actor.IsGuest():
		return uuid.Nil, apperr.Unauthorized("authentication required")
	case actor.IsAdmin():
		if requested == uuid.Nil {
			return uuid.Nil, apperr.Validation("patient_id", "patient_id is required")
		}
		return requested, nil
	case actor.Role != auth.RolePatient:
		return uuid.Nil, apperr.Forbidden("only patients can book appointments")
	case requested != uuid.Nil && requested != actor.UserID:
		return uuid.Nil, apperr.Forbidden("patients can only book for themselves")
	}
	return actor.UserID, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// BookGuest books a slot without an account and emails a confirmation.
func (s *Service) BookGuest(ctx context.Context, req GuestBookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.book_guest")
	defer span.End()
	span.SetAttributes(attribute.String("booking.doctor_id", req.DoctorID.String()))

	start := time.Now()
	name := strings.TrimSpace(req.GuestName)
	email := identity.NormalizeEmail(req.GuestEmail)
	phone := strings.TrimSpace(req.GuestPhone)

	invalid := func(err error) (*Appointment, error) {
		s.metrics.ObserveAttempt(kindGuest, metrics.OutcomeInvalid, time.Since(start))
		return nil, fail(span, err)
	}
	switch {
	case name == "":
		return invalid(apperr.Validation("guestName", "guestName is required"))
	case email == "":
		return invalid(apperr.Validation("guestEmail", "guestEmail is required"))
	case !identity.ValidEmail(email):
		return invalid(apperr.Validation("guestEmail", "Invalid email format"))
	case phone == "":
		return invalid(apperr.Validation("guestPhone", "guestPhone is required"))
	}

	sr := slotRequest{DoctorID: req.DoctorID, Date: req.Date, Time: req.Time, Reason: req.Reason, Mode: req.ConsultationMode}
	if err := s.validate(&sr, "reason"); err != nil {
		return invalid(err)
	}

	notes := fmt.Sprintf("Guest Booking\nName: %s\nEmail: %s\nPhone: %s\nReason: %s", name, email, phone, sr.Reason)
	a := &Appointment{
		DoctorID:         sr.DoctorID,
		AppointmentDate:  sr.Date,
		AppointmentTime:  sr.Time,
		ReasonForVisit:   sr.Reason,
		ConsultationMode: sr.Mode,
		Notes:            &notes,
		GuestName:        &name,
		GuestEmail:       &email,
		GuestPhone:       &phone,
	}
	doctor, err := s.insert(ctx, kindGuest, a, start)
	if err != nil {
		return nil, fail(span, err)
	}
	a.DoctorName = doctor.DisplayName()

	if s.notifier != nil {
		s.notifier.Dispatch(notify.GuestConfirmationEmail(notify.GuestConfirmation{
			GuestName:  name,
			GuestEmail: email,
			DoctorName: a.DoctorName,
			Date:       a.AppointmentDate,
			Time:       a.AppointmentTime,
			Mode:       a.ConsultationMode,
			Reference:  a.ID.String(),
		}))
	}
	span.SetAttributes(attribute.String("booking.appointment_id", a.ID.String()))
	return a, nil
}

// insert checks the doctor and writes a as pending. A unique violation on
// the live-slot index is the only way a conflict is detected.
func (s *Service) insert(ctx context.Context, kind string, a *Appointment, start time.Time) (*identity.Doctor, error) {
	outcome := metrics.OutcomeError
	defer func() { s.metrics.ObserveAttempt(kind, outcome, time.Since(start)) }()

	lctx, cancel := s.bounded(ctx)
	doctor, err := s.directory.GetDoctor(lctx, a.DoctorID)
	cancel()
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			outcome = metrics.OutcomeNotFound
			return nil, apperr.NotFound("doctor not found")
		}
		return nil, err
	}
	if !doctor.IsActive {
		outcome = metrics.OutcomeNotFound
		return nil, apperr.NotFound("doctor is not accepting appointments")
	}

	a.Status = StatusPending
	wctx, cancel := s.bounded(ctx)
	err = s.appointments.Create(wctx, a)
	cancel()
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			outcome = metrics.OutcomeConflict
			s.recordConflict(ctx, a)
			return nil, apperr.Conflict(apperr.CodeSlotUnavailable, SlotUnavailableMessage)
		}
		return nil, apperr.FromStorage(err, "appointment")
	}
	outcome = metrics.OutcomeBooked
	return doctor, nil
}

// recordConflict writes a conflict log entry unless the limiter says the
// doctor has produced too many this window. Limiter failures let the write
// through.
func (s *Service) recordConflict(ctx context.Context, a *Appointment) {
	s.logger.Warn().
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.AppointmentDate).
		Str("time", a.AppointmentTime).
		Bool("guest", a.IsGuest()).
		Msg("booking conflict")

	if s.conflicts == nil {
		return
	}
	if s.limiter != nil {
		lctx, lcancel := s.bounded(ctx)
		allowed, err := s.limiter.Allow(lctx, a.DoctorID)
		lcancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("conflict limiter unavailable")
			allowed = true
		}
		if !allowed {
			s.metrics.ObserveConflictLog(metrics.ConflictLogSuppressed)
			s.logger.Debug().Str("doctor_id", a.DoctorID.String()).Msg("conflict log suppressed")
			return
		}
	}

	entry := &ConflictLogEntry{
		DoctorID: a.DoctorID,
		Detail: ConflictDetail{
			AttemptedDate: a.AppointmentDate,
			AttemptedTime: a.AppointmentTime,
			PatientID:     a.PatientID,
			Guest:         a.IsGuest(),
			Timestamp:     s.now().UTC(),
		},
	}
	wctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.conflicts.Create(wctx, entry); err != nil {
		s.metrics.ObserveConflictLog(metrics.ConflictLogFailed)
		s.logger.Error().Err(err).Str("doctor_id", a.DoctorID.String()).Msg("conflict log write failed")
		return
	}
	s.metrics.ObserveConflictLog(metrics.ConflictLogWritten)
}

// Availability lists every slot of date with whether it can still be booked.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "booking.availability")
	defer span.End()

	date = strings.TrimSpace(date)
	if date == "" {
		return nil, fail(span, apperr.Validation("date", "date is required"))
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fail(span, apperr.Validation("date", "date must be YYYY-MM-DD"))
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fail(span, err)
	}
	if !doctor.IsActive {
		return nil, fail(span, apperr.NotFound("doctor is not accepting appointments"))
	}
	booked, err := s.appointments.ListBookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fail(span, apperr.FromStorage(err, "appointment"))
	}
	taken := make(map[string]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}
	out := make([]Slot, 0, len(Slots))
	for _, t := range Slots {
		out = append(out, Slot{Time: t, Available: !taken[t]})
	}
	return out, nil
}

// -- Queries --

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.list_for_patient")
	defer span.End()

	if actor.IsGuest() {
		return nil, fail(span, apperr.Unauthorized("authentication required"))
	}
	if !actor.IsAdmin() && !actor.Is(patientID) {
		return nil, fail(span, apperr.Forbidden("patients can only view their own appointments"))
	}

	lctx, cancel := s.bounded(ctx)
	items, err := s.appointments.ListByPatient(lctx, patientID)
	cancel()
	if err != nil {
		return nil, fail(span, apperr.FromStorage(err, "appointment"))
	}
	s.enrichDoctors(ctx, items)
	return nonNil(items), nil
}

func (s *Service) ListForDoctor(ctx context.Context, actor auth.Actor, doctorID uuid.UUID) ([]*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.list_for_doctor")
	defer span.End()

	if actor.IsGuest() {
		return nil, fail(span, apperr.Unauthorized("authentication required"))
	}
	if !actor.IsAdmin() && !(actor.Role == auth.RoleDoctor && actor.Is(doctorID)) {
		return nil, fail(span, apperr.Forbidden("doctors can only view their own queue"))
	}

	lctx, cancel := s.bounded(ctx)
	items, err := s.appointments.ListByDoctor(lctx, doctorID)
	cancel()
	if err != nil {
		return nil, fail(span, apperr.FromStorage(err, "appointment"))
	}
	s.enrichPatients(ctx, items)
	return nonNil(items), nil
}

// ListAll is the admin listing, newest first.
func (s *Service) ListAll(ctx context.Context, actor auth.Actor, f ListFilter) ([]*Appointment, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperr.Forbidden("admin role required")
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, apperr.Validation("status", "invalid status: "+f.Status)
	}

	lctx, cancel := s.bounded(ctx)
	items, total, err := s.appointments.List(lctx, f)
	cancel()
	if err != nil {
		return nil, 0, apperr.FromStorage(err, "appointment")
	}
	s.enrichDoctors(ctx, items)
	s.enrichPatients(ctx, items)
	return nonNil(items), total, nil
}

func nonNil(items []*Appointment) []*Appointment {
	if items == nil {
		return []*Appointment{}
	}
	return items
}

func canView(actor auth.Actor, a *Appointment) bool {
	if actor.IsAdmin() || actor.Is(a.DoctorID) {
		return true
	}
	return a.PatientID != nil && actor.Is(*a.PatientID)
}

// Get returns one appointment. Callers who are not a party to it see
// NotFound.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.get")
	defer span.End()

	if actor.IsGuest() {
		return nil, fail(span, apperr.Unauthorized("authentication required"))
	}
	lctx, cancel := s.bounded(ctx)
	a, err := s.appointments.GetByID(lctx, id)
	cancel()
	if err != nil {
		return nil, fail(span, apperr.FromStorage(err, "appointment"))
	}
	if !canView(actor, a) {
		return nil, fail(span, apperr.NotFound("appointment not found"))
	}
	items := []*Appointment{a}
	s.enrichDoctors(ctx, items)
	s.enrichPatients(ctx, items)
	return a, nil
}

// -- Status changes --

// allowedChange reports whether actor may move a to status. Doctors work
// their own queue; patients may only cancel their own appointments.
func allowedChange(actor auth.Actor, a *Appointment, status string) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Role == auth.RoleDoctor && actor.Is(a.DoctorID):
		return true
	case a.PatientID != nil && actor.Is(*a.PatientID):
		return status == StatusCancelled
	}
	return false
}

// SetStatus applies a status change with a compare-and-set on the current
// status. Setting the current status again is a no-op.
func (s *Service) SetStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.set_status")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()), attribute.String("booking.status", status))

	if actor.IsGuest() {
		return nil, fail(span, apperr.Unauthorized("authentication required"))
	}
	status = strings.TrimSpace(status)
	if !ValidStatus(status) {
		return nil, fail(span, apperr.Validation("status", "invalid status: "+status))
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, apperr.FromStorage(err, "appointment"))
	}
	if !canView(actor, a) {
		return nil, fail(span, apperr.NotFound("appointment not found"))
	}
	if !allowedChange(actor, a, status) {
		return nil, fail(span, apperr.Forbidden(fmt.Sprintf("%s may not set status %s", actor.Role, status)))
	}
	if a.Status == status {
		return a, nil
	}
	if !CanTransition(a.Status, status) {
		return nil, fail(span, apperr.Validation("status",
			fmt.Sprintf("invalid status transition: %s -> %s", a.Status, status)))
	}

	updated, err := s.appointments.UpdateStatus(ctx, id, a.Status, status)
	if err != nil {
		if !errors.Is(err, ErrStatusChanged) {
			return nil, fail(span, apperr.FromStorage(err, "appointment"))
		}
		current, gerr := s.appointments.GetByID(ctx, id)
		if gerr == nil && current.Status == status {
			return current, nil
		}
		return nil, fail(span, apperr.Conflict(apperr.CodeConcurrentUpdate,
			"appointment was modified concurrently; reload and retry"))
	}
	s.metrics.ObserveTransition(a.Status, status)
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", a.Status).
		Str("to", status).
		Str("actor_id", actor.UserID.String()).
		Msg("appointment status changed")
	return updated, nil
}

// Cancel is SetStatus(cancelled). Cancelling twice succeeds.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.SetStatus(ctx, actor, id, StatusCancelled)
}

// -- Enrichment --

// enrichDoctors fills DoctorName. Lookup failures leave raw ids in place.
func (s *Service) enrichDoctors(ctx context.Context, items []*Appointment) {
	if len(items) == 0 || s.directory == nil {
		return
	}
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, a := range items {
		if !seen[a.DoctorID] {
			seen[a.DoctorID] = true
			ids = append(ids, a.DoctorID)
		}
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()
	names, err := s.directory.DoctorNames(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("doctors", len(ids)).Msg("enrichment failed")
		return
	}
	for _, a := range items {
		if name, ok := names[a.DoctorID]; ok {
			a.DoctorName = name
		}
	}
}

// enrichPatients fills PatientName and PatientPhone from the profile, or from
// the guest columns for guest bookings.
func (s *Service) enrichPatients(ctx context.Context, items []*Appointment) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, a := range items {
		if a.IsGuest() {
			if a.GuestName != nil {
				a.PatientName = *a.GuestName
			}
			a.PatientPhone = a.GuestPhone
			continue
		}
		if !seen[*a.PatientID] {
			seen[*a.PatientID] = true
			ids = append(ids, *a.PatientID)
		}
	}
	if len(ids) == 0 || s.directory == nil {
		return
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()
	contacts, err := s.directory.Contacts(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("patients", len(ids)).Msg("enrichment failed")
		return
	}
	for _, a := range items {
		if a.IsGuest() {
			continue
		}
		if c, ok := contacts[*a.PatientID]; ok {
			a.PatientName = c.FullName
			a.PatientPhone = c.Phone
		}
	}
}

// -- Conflict log --

func (s *Service) ListConflicts(ctx context.Context, actor auth.Actor, limit, offset int) ([]*ConflictLogEntry, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperr.Forbidden("admin role required")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	items, total, err := s.conflicts.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStorage(err, "conflict log")
	}
	if items == nil {
		items = []*ConflictLogEntry{}
	}
	return items, total, nil
}

// PruneConflicts deletes conflict log entries older than olderThan. It backs
// the maintenance CLI and has no HTTP route.
func (s *Service) PruneConflicts(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("older_than", "older_than must be positive")
	}
	n, err := s.conflicts.Prune(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, apperr.FromStorage(err, "conflict log")
	}
	s.logger.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("conflict log pruned")
	return n, nil
}

// Counts is the booking half of the admin statistics.
type Counts struct {
	ByStatus  map[string]int
	Total     int
	Conflicts int
}

func (s *Service) Counts(ctx context.Context, actor auth.Actor) (*Counts, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	byStatus, err := s.appointments.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.FromStorage(err, "appointment")
	}
	conflicts, err := s.conflicts.Count(ctx)
	if err != nil {
		return nil, apperr.FromStorage(err, "conflict log")
	}
	c := &Counts{ByStatus: byStatus, Conflicts: conflicts}
	for _, n := range byStatus {
		c.Total += n
	}
	return c, nil
}
