package identity

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/blobstore"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	adminOnly := auth.RequireRole(auth.RoleAdmin)
	patientWriter := auth.RequireRole(auth.RoleAdmin, auth.RolePractitioner, auth.RoleReception)

	api.GET("/fisios", h.ListPractitioners)
	api.GET("/fisios/:id", h.GetPractitioner)
	api.POST("/fisios", h.CreatePractitioner, adminOnly)
	api.PUT("/fisios/:id", h.UpdatePractitioner, adminOnly)
	api.DELETE("/fisios/:id", h.DeletePractitioner, adminOnly)

	api.GET("/pacientes", h.ListPatients)
	api.GET("/pacientes/:id", h.GetPatient)
	api.POST("/pacientes", h.CreatePatient, patientWriter)
	api.PUT("/pacientes/:id", h.UpdatePatient, patientWriter)
	api.DELETE("/pacientes/:id", h.DeletePatient, patientWriter)

	api.GET("/pacientes/:id/attachments", h.ListAttachments)
	api.GET("/pacientes/:id/attachments/:attId/download", h.DownloadAttachment)
	api.POST("/pacientes/:id/attachments", h.UploadAttachment, patientWriter)
	api.DELETE("/pacientes/:id/attachments/:attId", h.DeleteAttachment, patientWriter)
}

// httpError maps service errors to HTTP errors. Anything unrecognised is
// returned as is and rendered as a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateEmail):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return err
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func listQuery(c echo.Context) ListQuery {
	pg := pagination.FromContext(c)
	return ListQuery{Q: c.QueryParam("q"), Sort: c.QueryParam("sort"), Limit: pg.Limit, Offset: pg.Offset}
}

// -- Practitioner Handlers --

func (h *Handler) CreatePractitioner(c echo.Context) error {
	p := Practitioner{Active: true}
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePractitioner(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPractitioner(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPractitioners(c echo.Context) error {
	q := listQuery(c)
	items, total, err := h.svc.SearchPractitioners(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pagination.Params{Limit: q.Limit, Offset: q.Offset}))
}

// UpdatePractitioner applies the fields present in the body to the stored record.
func (h *Handler) UpdatePractitioner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPractitioner(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePractitioner(ctx, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePractitioner(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePractitioner(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	q := listQuery(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pagination.Params{Limit: q.Limit, Offset: q.Offset}))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(ctx, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Attachment Handlers --

func (h *Handler) UploadAttachment(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	var uploadedBy *uuid.UUID
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		uploadedBy = &id.UserID
	}
	a, err := h.svc.UploadAttachment(c.Request().Context(), patientID, fh.Filename, f, uploadedBy)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListAttachments(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Attachment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	attID, err := parseID(c, "attId")
	if err != nil {
		return err
	}
	a, rc, err := h.svc.OpenAttachment(c.Request().Context(), patientID, attID)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	name := strings.ReplaceAll(url.PathEscape(a.OriginalName), `"`, "%22")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Stream(http.StatusOK, a.MimeType, rc)
}

func (h *Handler) DeleteAttachment(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	attID, err := parseID(c, "attId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAttachment(c.Request().Context(), patientID, attID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
