package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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

// RegisterRoutes expects api to carry an optional auth middleware so guests
// reach the public endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.SignIn)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.SignOut, auth.RequireAuth())
	api.GET("/auth/me", h.Me, auth.RequireAuth())
	api.POST("/auth/register-doctor", h.RegisterDoctor, auth.RequireRole(auth.RoleDoctor))

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.GET("/specializations", h.ListSpecializations)
}

func badBody() error {
	return apperr.ToHTTP(apperr.Validation("", "malformed request body"))
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"user": u})
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	ctx := c.Request().Context()
	d, err := h.svc.RegisterDoctor(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	sess, err := h.svc.SignIn(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	sess, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SignOut(c echo.Context) error {
	var req RefreshRequest
	// The body is optional.
	_ = c.Bind(&req)
	ctx := c.Request().Context()
	err := h.svc.SignOut(ctx, auth.TokenIDFromContext(ctx), auth.TokenExpiryFromContext(ctx), req.RefreshToken)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.Me(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), DoctorFilter{
		Specialization: c.QueryParam("specialization"),
		Limit:          pg.Limit,
		Offset:         pg.Offset,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("id", "invalid id"))
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListSpecializations(c echo.Context) error {
	out, err := h.svc.ListSpecializations(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"specializations": out})
}
