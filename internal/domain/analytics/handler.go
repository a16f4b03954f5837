package analytics

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/analytics/body-zones", h.BodyZones)
}

func (h *Handler) BodyZones(c echo.Context) error {
	report, err := h.svc.BodyZones(c.Request().Context(), BodyZoneQuery{
		Range: c.QueryParam("range"),
		From:  c.QueryParam("from"),
		To:    c.QueryParam("to"),
	})
	if errors.Is(err, ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
