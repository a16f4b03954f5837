package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

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
	deleters := auth.RequireRole(auth.RoleReception)
	physioOnly := auth.RequireRole(auth.RolePractitioner)
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	api.GET("/calendar/events", h.CalendarEvents)

	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/events", h.AppointmentEvents)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment)
	api.DELETE("/appointments/:id", h.DeleteAppointment, deleters)

	api.GET("/vacations", h.ListVacations)
	api.GET("/vacations/events", h.VacationEvents)
	api.POST("/vacations", h.CreateVacation, physioOnly)
	api.DELETE("/vacations/:id", h.DeleteVacation, physioOnly)

	api.POST("/vacation-requests", h.SubmitVacationRequest, physioOnly)
	api.GET("/vacation-requests/mine", h.MyVacationRequests, physioOnly)
	api.GET("/vacation-requests/pending", h.PendingVacationRequests, adminOnly)
	api.POST("/vacation-requests/:id/resolve", h.ResolveVacationRequest, adminOnly)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation), errors.Is(err, ErrOnVacation), errors.Is(err, ErrNoPractitionerProfile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAppointmentOverlap), errors.Is(err, ErrVacationOverlap), errors.Is(err, ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
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

// optionalUUID parses an optional id field. Nil and empty values mean none.
func optionalUUID(field string, raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field)
	}
	return &id, nil
}

func optionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := ParseTime(*raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field)
	}
	return &t, nil
}

func physioQuery(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("physio")
	return optionalUUID("physio", &raw)
}

// -- Appointments --

type appointmentRequest struct {
	PatientName            *string `json:"patientName"`
	Patient                *string `json:"patient"`
	Physio                 *string `json:"physio"`
	Start                  *string `json:"start"`
	End                    *string `json:"end"`
	Duration               *int    `json:"duration"`
	Title                  *string `json:"title"`
	Notes                  *string `json:"notes"`
	CreatePatientIfMissing bool    `json:"createPatientIfMissing"`
}

func (r appointmentRequest) input() (AppointmentInput, error) {
	in := AppointmentInput{
		PatientName:            r.PatientName,
		Title:                  r.Title,
		Notes:                  r.Notes,
		CreatePatientIfMissing: r.CreatePatientIfMissing,
	}
	var err error
	if in.PractitionerID, err = optionalUUID("physio", r.Physio); err != nil {
		return in, err
	}
	if in.PatientID, err = optionalUUID("patient", r.Patient); err != nil {
		return in, err
	}
	if in.Start, err = optionalTime("start", r.Start); err != nil {
		return in, err
	}
	if in.End, err = optionalTime("end", r.End); err != nil {
		return in, err
	}
	if r.Duration != nil {
		d := time.Duration(*r.Duration) * time.Minute
		in.Duration = &d
	}
	return in, nil
}

func (h *Handler) bindAppointment(c echo.Context) (AppointmentInput, error) {
	var req appointmentRequest
	if err := c.Bind(&req); err != nil {
		return AppointmentInput{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req.input()
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	in, err := h.bindAppointment(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	var err error
	if f.PractitionerID, err = physioQuery(c); err != nil {
		return err
	}
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if f.From, err = optionalTime("from", &from); err != nil {
		return err
	}
	if f.To, err = optionalTime("to", &to); err != nil {
		return err
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	in, err := h.bindAppointment(c)
	if err != nil {
		return err
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Calendar --

// window reads start/end, falling back to from/to.
func (h *Handler) window(c echo.Context) (CalendarWindow, error) {
	from := c.QueryParam("start")
	if from == "" {
		from = c.QueryParam("from")
	}
	to := c.QueryParam("end")
	if to == "" {
		to = c.QueryParam("to")
	}
	w, err := ParseWindow(h.svc.now(), from, to)
	if err != nil {
		return w, httpError(err)
	}
	if w.PractitionerID, err = physioQuery(c); err != nil {
		return w, err
	}
	return w, nil
}

func (h *Handler) feed(c echo.Context, load func(context.Context, CalendarWindow) ([]CalendarEvent, error)) error {
	w, err := h.window(c)
	if err != nil {
		return err
	}
	evs, err := load(c.Request().Context(), w)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, evs)
}

func (h *Handler) CalendarEvents(c echo.Context) error {
	return h.feed(c, h.svc.CalendarEvents)
}

func (h *Handler) AppointmentEvents(c echo.Context) error {
	return h.feed(c, h.svc.AppointmentEvents)
}

func (h *Handler) VacationEvents(c echo.Context) error {
	return h.feed(c, h.svc.VacationEvents)
}

// -- Vacations --

type vacationRequest struct {
	Physio    *string `json:"physio"`
	FisioID   *string `json:"fisioId"`
	StartDate Date    `json:"startDate"`
	EndDate   Date    `json:"endDate"`
	Title     string  `json:"title"`
	Notes     string  `json:"notes"`
	Color     string  `json:"color"`
}

func (h *Handler) ListVacations(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	physio, err := physioQuery(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListVacations(c.Request().Context(), actor, physio)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Vacation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateVacation(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	var req vacationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	raw := req.Physio
	if raw == nil {
		raw = req.FisioID
	}
	physio, err := optionalUUID("physio", raw)
	if err != nil {
		return err
	}
	v, err := h.svc.CreateVacation(c.Request().Context(), actor, VacationInput{
		PractitionerID: physio,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Title:          req.Title,
		Notes:          req.Notes,
		Color:          req.Color,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) DeleteVacation(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteVacation(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Vacation requests --

type submitRequest struct {
	StartDate Date   `json:"startDate"`
	EndDate   Date   `json:"endDate"`
	Message   string `json:"message"`
}

func (h *Handler) SubmitVacationRequest(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vr, err := h.svc.SubmitVacationRequest(c.Request().Context(), actor, VacationRequestInput(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, vr)
}

func (h *Handler) MyVacationRequests(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	items, err := h.svc.MyVacationRequests(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*VacationRequest{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) PendingVacationRequests(c echo.Context) error {
	items, err := h.svc.PendingVacationRequests(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*VacationRequest{}
	}
	return c.JSON(http.StatusOK, items)
}

type resolveRequest struct {
	Action ResolveAction `json:"action"`
}

func (h *Handler) ResolveVacationRequest(c echo.Context) error {
	actor, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ResolveVacationRequest(c.Request().Context(), actor, id, req.Action)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
