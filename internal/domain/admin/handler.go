package admin

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)

	adminOnly := auth.RequireRole(auth.RoleAdmin)
	api.POST("/fisio-access", h.GrantAccess, adminOnly)
	api.POST("/fisio-access/:practitionerId/create", h.GrantAccess, adminOnly)
	api.POST("/fisio-access/:practitionerId/reset", h.ResetAccess, adminOnly)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUserExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type meResponse struct {
	User UserView `json:"user"`
}

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meResponse{User: viewOf(*id)})
}

type accessRequest struct {
	PractitionerID string `json:"practitionerId"`
	Password       string `json:"password"`
}

// practitionerID prefers the path parameter and falls back to the body.
func (r accessRequest) practitionerID(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("practitionerId")
	if raw == "" {
		raw = r.PractitionerID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid practitionerId")
	}
	return id, nil
}

func (h *Handler) GrantAccess(c echo.Context) error {
	var req accessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pid, err := req.practitionerID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.GrantPractitionerAccess(c.Request().Context(), pid, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ResetAccess(c echo.Context) error {
	var req accessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pid, err := req.practitionerID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ResetPractitionerAccess(c.Request().Context(), pid, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
