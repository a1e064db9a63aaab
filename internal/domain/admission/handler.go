package admission

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/internal/platform/auth"
	"github.com/ehr/inpatient/internal/platform/middleware"
	"github.com/ehr/inpatient/pkg/pagination"
)

type Handler struct {
	engine *Engine
	now    func() time.Time
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine, now: engine.opts.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleNurse, auth.RolePhysician, auth.RoleAdmissions, auth.RoleBedManager))
	read.GET("/admissions", h.ListAdmissions)
	read.GET("/admissions/:id", h.GetAdmission)

	write := api.Group("", auth.RequireRole(auth.RoleAdmissions, auth.RoleNurse, auth.RolePhysician))
	write.POST("/admissions", h.CreateAdmission)
	write.PATCH("/admissions/:id", h.UpdateAdmission)
	write.POST("/admissions/:id/discharge", h.DischargePatient)
	write.POST("/admissions/:id/transfer", h.TransferPatient)
}

func (h *Handler) CreateAdmission(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.engine.CreateAdmission(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Set(middleware.AuditPatientKey, a.PatientID)
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.engine.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		PatientID: c.QueryParam("patient_id"),
		Status:    Status(c.QueryParam("status")),
	}
	for param, dst := range map[string]**uuid.UUID{"ward_id": &f.WardID, "bed_id": &f.BedID} {
		v := c.QueryParam(param)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = &id
	}

	items, total, err := h.engine.ListAdmissions(c.Request().Context(), f, pg)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.engine.UpdateAdmission(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Set(middleware.AuditPatientKey, a.PatientID)
	return c.JSON(http.StatusOK, a)
}

type dischargeBody struct {
	DischargeDate        string      `json:"discharge_date"`
	DischargeTime        string      `json:"discharge_time"`
	DischargeDisposition Disposition `json:"discharge_disposition"`
	Notes                *string     `json:"notes,omitempty"`
}

// dischargeTime combines "YYYY-MM-DD" and "HH:MM" in UTC. A missing date
// means today and a missing time means now.
func dischargeTime(date, clock string, now time.Time) (time.Time, error) {
	now = now.UTC()
	day := now
	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return time.Time{}, apperr.Validation("discharge_date must be YYYY-MM-DD")
		}
		day = d
	}
	hour, minute, sec := now.Hour(), now.Minute(), now.Second()
	if clock != "" {
		t, err := time.Parse("15:04", clock)
		if err != nil {
			return time.Time{}, apperr.Validation("discharge_time must be HH:MM")
		}
		hour, minute, sec = t.Hour(), t.Minute(), 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, 0, time.UTC), nil
}

func (h *Handler) DischargePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body dischargeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	at, err := dischargeTime(body.DischargeDate, body.DischargeTime, h.now())
	if err != nil {
		return apperr.ToHTTP(err)
	}

	a, err := h.engine.DischargePatient(c.Request().Context(), id, DischargeRequest{
		DischargedAt: &at,
		Disposition:  body.DischargeDisposition,
		Notes:        body.Notes,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Set(middleware.AuditPatientKey, a.PatientID)
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) TransferPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.TransferPatient(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Set(middleware.AuditPatientKey, res.To.PatientID)
	return c.JSON(http.StatusOK, res)
}
