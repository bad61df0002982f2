package admin

import (
	"github.com/medibook/medibook/internal/domain/booking"
	"github.com/medibook/medibook/internal/platform/auth"
)

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers            int `json:"total_users"`
	TotalDoctors          int `json:"total_doctors"`
	TotalPatients         int `json:"total_patients"`
	TotalAppointments     int `json:"total_appointments"`
	PendingAppointments   int `json:"pending_appointments"`
	ConfirmedAppointments int `json:"confirmed_appointments"`
	CompletedAppointments int `json:"completed_appointments"`
	CancelledAppointments int `json:"cancelled_appointments"`
	Conflicts             int `json:"conflicts"`
}

func newStats(users map[string]int, c *booking.Counts) *Stats {
	s := &Stats{
		TotalDoctors:          users[auth.RoleDoctor],
		TotalPatients:         users[auth.RolePatient],
		TotalAppointments:     c.Total,
		PendingAppointments:   c.ByStatus[booking.StatusPending],
		ConfirmedAppointments: c.ByStatus[booking.StatusConfirmed],
		CompletedAppointments: c.ByStatus[booking.StatusCompleted],
		CancelledAppointments: c.ByStatus[booking.StatusCancelled],
		Conflicts:             c.Conflicts,
	}
	for _, n := range users {
		s.TotalUsers += n
	}
	return s
}
