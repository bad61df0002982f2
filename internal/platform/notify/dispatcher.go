package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher sends emails in the background. Failures are logged and never
// reach the caller.
type Dispatcher struct {
	sender  EmailSender
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(sender EmailSender, logger zerolog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, logger: logger, timeout: timeout}
}

// Dispatch queues msg for delivery and returns immediately.
func (d *Dispatcher) Dispatch(msg EmailMessage) {
	if d == nil || d.sender == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("email delivery failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GuestConfirmation is the data rendered into a guest booking email.
type GuestConfirmation struct {
	GuestName  string
	GuestEmail string
	DoctorName string
	Date       string // YYYY-MM-DD
	Time       string // HH:MM
	Mode       string
	Reference  string
}

// GuestConfirmationEmail renders the confirmation sent after a guest booking.
func GuestConfirmationEmail(g GuestConfirmation) EmailMessage {
	doctor := g.DoctorName
	if doctor == "" {
		doctor = "your doctor"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", g.GuestName)
	fmt.Fprintf(&b, "Your appointment request with %s has been received.\n\n", doctor)
	fmt.Fprintf(&b, "Date: %s\nTime: %s\nMode: %s\nReference: %s\n\n", g.Date, g.Time, g.Mode, g.Reference)
	b.WriteString("The appointment is pending until the clinic confirms it. ")
	b.WriteString("Please keep the reference for any follow-up.\n\nMediBook")

	return EmailMessage{
		To:      g.GuestEmail,
		ToName:  g.GuestName,
		Subject: fmt.Sprintf("Appointment request received for %s at %s", g.Date, g.Time),
		Body:    b.String(),
	}
}
