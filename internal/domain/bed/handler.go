package bed

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/internal/platform/auth"
	"github.com/ehr/inpatient/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleNurse, auth.RolePhysician, auth.RoleAdmissions, auth.RoleBedManager))
	read.GET("/beds", h.ListBeds)
	read.GET("/beds/available", h.ListAvailable)
	read.GET("/beds/:id", h.GetBed)

	write := api.Group("", auth.RequireRole(auth.RoleBedManager))
	write.POST("/beds", h.CreateBed)
	write.PATCH("/beds/:id", h.UpdateBed)
}

func (h *Handler) CreateBed(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBed(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Type:   Type(c.QueryParam("type")),
		Status: Status(c.QueryParam("status")),
	}
	wardID, err := optionalUUID(c.QueryParam("ward_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward_id")
	}
	f.WardID = wardID
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.Active = &active
	}

	beds, total, err := h.svc.ListBeds(c.Request().Context(), f, pg)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, pg))
}

func (h *Handler) ListAvailable(c echo.Context) error {
	wardID, err := optionalUUID(c.QueryParam("ward_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward_id")
	}
	beds, err := h.svc.ListAvailable(c.Request().Context(), wardID, Type(c.QueryParam("type")))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if beds == nil {
		beds = []*Bed{}
	}
	return c.JSON(http.StatusOK, beds)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBed(c.Request().Context(), id, p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
