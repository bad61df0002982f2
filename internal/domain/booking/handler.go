package booking

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes expects api to carry an optional auth middleware so guests
// reach the guest booking and availability endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:id/availability", h.Availability)

	api.POST("/appointments/guest", h.BookGuest)
	api.POST("/appointments", h.BookSlot, auth.RequireRole(auth.RolePatient))

	authed := api.Group("", auth.RequireAuth())
	authed.GET("/appointments", h.List)
	authed.GET("/appointments/:id", h.Get)
	authed.PATCH("/appointments/:id/status", h.SetStatus)
	authed.POST("/appointments/:id/cancel", h.Cancel)
}

func badBody() error {
	return apperr.ToHTTP(apperr.Validation("", "malformed request body"))
}

// parseOptionalID parses a UUID field that may be empty.
func parseOptionalID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation(field, field+" must be a UUID")
	}
	return id, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("id", "invalid id")
	}
	return id, nil
}

type bookingBody struct {
	PatientID        string  `json:"patient_id"`
	DoctorID         string  `json:"doctor_id"`
	AppointmentDate  string  `json:"appointment_date"`
	AppointmentTime  string  `json:"appointment_time"`
	ReasonForVisit   string  `json:"reason_for_visit"`
	Reason           string  `json:"reason"`
	ConsultationMode string  `json:"consultation_mode"`
	Notes            *string `json:"notes"`
}

// splitTimestamp accepts clients that send a single RFC3339 appointment_date.
// The UTC date and HH:MM are taken from it.
func splitTimestamp(date, clock string) (string, string) {
	if strings.TrimSpace(clock) != "" {
		return date, clock
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(date))
	if err != nil {
		return date, clock
	}
	ts = ts.UTC()
	return ts.Format(dateLayout), ts.Format(timeLayout)
}

func (b bookingBody) toRequest() (BookingRequest, error) {
	patientID, err := parseOptionalID("patient_id", b.PatientID)
	if err != nil {
		return BookingRequest{}, err
	}
	doctorID, err := parseOptionalID("doctor_id", b.DoctorID)
	if err != nil {
		return BookingRequest{}, err
	}
	date, clock := splitTimestamp(b.AppointmentDate, b.AppointmentTime)

	reason := strings.TrimSpace(b.ReasonForVisit)
	if reason == "" {
		reason = strings.TrimSpace(b.Reason)
	}
	if reason == "" && b.Notes != nil {
		reason = strings.TrimSpace(*b.Notes)
	}
	return BookingRequest{
		PatientID:        patientID,
		DoctorID:         doctorID,
		Date:             date,
		Time:             clock,
		Reason:           reason,
		ConsultationMode: b.ConsultationMode,
		Notes:            b.Notes,
	}, nil
}

type bookingResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment"`
}

func (h *Handler) BookSlot(c echo.Context) error {
	var body bookingBody
	if err := c.Bind(&body); err != nil {
		return badBody()
	}
	req, err := body.toRequest()
	if err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.BookSlot(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, bookingResponse{
		Success:     true,
		Message:     "Appointment booked successfully",
		Appointment: a,
	})
}

type guestBody struct {
	GuestName        string `json:"guestName"`
	GuestEmail       string `json:"guestEmail"`
	GuestPhone       string `json:"guestPhone"`
	DoctorID         string `json:"doctor_id"`
	AppointmentDate  string `json:"appointment_date"`
	AppointmentTime  string `json:"appointment_time"`
	Reason           string `json:"reason"`
	ConsultationMode string `json:"consultation_mode"`
}

func (h *Handler) BookGuest(c echo.Context) error {
	var body guestBody
	if err := c.Bind(&body); err != nil {
		return badBody()
	}
	doctorID, err := parseOptionalID("doctor_id", body.DoctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	date, clock := splitTimestamp(body.AppointmentDate, body.AppointmentTime)
	a, err := h.svc.BookGuest(c.Request().Context(), GuestBookingRequest{
		GuestName:        body.GuestName,
		GuestEmail:       body.GuestEmail,
		GuestPhone:       body.GuestPhone,
		DoctorID:         doctorID,
		Date:             date,
		Time:             clock,
		Reason:           body.Reason,
		ConsultationMode: body.ConsultationMode,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, bookingResponse{
		Success:     true,
		Message:     "Appointment booked successfully. A confirmation will be sent to your email.",
		Appointment: a,
	})
}

func (h *Handler) Availability(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	date := c.QueryParam("date")
	slots, err := h.svc.Availability(c.Request().Context(), id, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": id,
		"date":      date,
		"slots":     slots,
	})
}

// List serves GET /appointments?patient_id= or ?doctor_id=. patient_id wins
// when both are given.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	patientID, err := parseOptionalID("patient_id", c.QueryParam("patient_id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	doctorID, err := parseOptionalID("doctor_id", c.QueryParam("doctor_id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var items []*Appointment
	switch {
	case patientID != uuid.Nil:
		items, err = h.svc.ListForPatient(ctx, actor, patientID)
	case doctorID != uuid.Nil:
		items, err = h.svc.ListForDoctor(ctx, actor, doctorID)
	default:
		return apperr.ToHTTP(apperr.Validation("patient_id", "Provide either patient_id or doctor_id"))
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"appointments": items})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.Get(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	ctx := c.Request().Context()
	a, err := h.svc.SetStatus(ctx, auth.ActorFromContext(ctx), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.Cancel(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
