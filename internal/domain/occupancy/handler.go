package occupancy

import (
	"bytes"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/internal/platform/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	reporter *Reporter
}

func NewHandler(r *Reporter) *Handler {
	return &Handler{reporter: r}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleNurse, auth.RolePhysician, auth.RoleAdmissions, auth.RoleBedManager))
	read.GET("/occupancy/wards", h.WardOccupancy)
	read.GET("/occupancy/stats", h.SystemStats)
	read.GET("/reports/occupancy.xlsx", h.ExportXLSX)

	admin := api.Group("", auth.RequireRole(auth.RoleBedManager))
	admin.GET("/occupancy/reconcile", h.Reconcile)
}

func (h *Handler) WardOccupancy(c echo.Context) error {
	var wardID *uuid.UUID
	if v := c.QueryParam("ward_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ward_id")
		}
		wardID = &id
	}
	rows, err := h.reporter.WardOccupancy(c.Request().Context(), wardID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) SystemStats(c echo.Context) error {
	var asOf *time.Time
	if v := c.QueryParam("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		asOf = &d
	}
	stats, err := h.reporter.SystemStats(c.Request().Context(), asOf)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Reconcile(c echo.Context) error {
	drifts, err := h.reporter.Reconcile(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, drifts)
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.reporter.ExportXLSX(c.Request().Context(), &buf); err != nil {
		return apperr.ToHTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=occupancy.xlsx")
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
