package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveAttempt("patient", OutcomeBooked, 20*time.Millisecond)
	m.ObserveAttempt("patient", OutcomeConflict, 5*time.Millisecond)
	m.ObserveAttempt("patient", OutcomeConflict, 5*time.Millisecond)
	m.ObserveConflictLog(ConflictLogSuppressed)
	m.ObserveTransition("pending", "confirmed")

	if got := counterValue(t, reg, "medibook_booking_attempts_total", map[string]string{"kind": "patient", "outcome": OutcomeConflict}); got != 2 {
		t.Errorf("expected 2 conflicts, got %v", got)
	}
	if got := counterValue(t, reg, "medibook_booking_conflict_log_total", map[string]string{"result": ConflictLogSuppressed}); got != 1 {
		t.Errorf("expected 1 suppressed write, got %v", got)
	}
	if got := counterValue(t, reg, "medibook_appointment_status_transitions_total", map[string]string{"from": "pending", "to": "confirmed"}); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveAttempt("guest", OutcomeBooked, time.Millisecond)
	m.ObserveConflictLog(ConflictLogWritten)
	m.ObserveTransition("pending", "cancelled")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/appointments/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments/"+id, nil))
	}

	got := counterValue(t, reg, "medibook_http_requests_total", map[string]string{
		"method": "GET", "route": "/api/v1/appointments/:id", "status": "404",
	})
	if got != 3 {
		t.Errorf("expected 3 requests on the route template, got %v", got)
	}
}

func TestHTTPMetricsNilMiddleware(t *testing.T) {
	var m *HTTPMetrics
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := m.Middleware()(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
