package admin

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/domain/booking"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	g.GET("/stats", h.Stats)
	g.GET("/users", h.ListUsers)
	g.GET("/appointments", h.ListAppointments)
	g.GET("/conflicts", h.ListConflicts)
}

func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := h.svc.Stats(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ListUsers serves GET /admin/users?role=&limit=&offset=.
func (h *Handler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(ctx, auth.ActorFromContext(ctx),
		strings.TrimSpace(c.QueryParam("role")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// ListAppointments serves GET /admin/appointments?status=&limit=&offset=.
func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(ctx, auth.ActorFromContext(ctx), booking.ListFilter{
		Status: strings.TrimSpace(c.QueryParam("status")),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListConflicts(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConflicts(ctx, auth.ActorFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
