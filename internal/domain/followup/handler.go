package followup

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	writers := auth.RequireRole(auth.RolePractitioner)

	api.GET("/seguimientos", h.List)
	api.GET("/seguimientos/:id", h.Get)
	api.POST("/seguimientos", h.Create, writers)
	api.PUT("/seguimientos/:id", h.Update, writers)
	api.DELETE("/seguimientos/:id", h.Delete, writers)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return err
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func optionalUUID(field, raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field)
	}
	return &id, nil
}

// parseVisitDate accepts a full timestamp or a bare YYYY-MM-DD day.
func parseVisitDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return DayStart(raw)
}

type request struct {
	Patient     *string  `json:"patient"`
	PatientName *string  `json:"patientName"`
	Physio      *string  `json:"physio"`
	Date        *string  `json:"date"`
	Comment     *string  `json:"comment"`
	BodyZones   []string `json:"bodyZones"`
}

func (r request) input() (Input, error) {
	in := Input{PatientName: r.PatientName, Comment: r.Comment, BodyZones: r.BodyZones}
	var err error
	if r.Patient != nil {
		if in.PatientID, err = optionalUUID("patient", *r.Patient); err != nil {
			return in, err
		}
	}
	if r.Physio != nil {
		if in.PractitionerID, err = optionalUUID("physio", *r.Physio); err != nil {
			return in, err
		}
	}
	if r.Date != nil && strings.TrimSpace(*r.Date) != "" {
		t, err := parseVisitDate(*r.Date)
		if err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		in.VisitDate = &t
	}
	return in, nil
}

func bindInput(c echo.Context) (Input, error) {
	var req request
	if err := c.Bind(&req); err != nil {
		return Input{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req.input()
}

func listQuery(c echo.Context) (ListQuery, error) {
	pg := pagination.FromContext(c)
	q := ListQuery{Q: c.QueryParam("q"), Sort: c.QueryParam("sort"), Limit: pg.Limit, Offset: pg.Offset}
	var err error
	if q.PatientID, err = optionalUUID("patientId", c.QueryParam("patientId")); err != nil {
		return q, err
	}
	if q.PractitionerID, err = optionalUUID("physioId", c.QueryParam("physioId")); err != nil {
		return q, err
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := DayStart(v)
		if err != nil {
			return q, err
		}
		q.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := DayEnd(v)
		if err != nil {
			return q, err
		}
		q.To = &t
	}
	return q, nil
}

func (h *Handler) List(c echo.Context) error {
	q, err := listQuery(c)
	if err != nil {
		return httpError(err)
	}
	items, total, err := h.svc.Search(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pagination.Params{Limit: q.Limit, Offset: q.Offset}))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Create(c echo.Context) error {
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
