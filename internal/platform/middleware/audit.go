package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/auth"
)

// AuditPatientKey is the echo context key a handler sets to the patient a
// request acted on. Handlers that touch one patient set it after success.
const AuditPatientKey = "audit_patient_id"

const apiPrefix = "/api/v1/"

// Audit logs one "patient_movement" line for every successful write under
// /api/v1: who did it, what they did and to which patient. Reads are not
// audited. Register it after authentication so the actor is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodGet || req.Method == http.MethodHead || !strings.HasPrefix(req.URL.Path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			if err != nil && status < 400 {
				status = http.StatusInternalServerError
			}

			resource, id, action := auditTarget(req.Method, req.URL.Path)
			patient, _ := c.Get(AuditPatientKey).(string)
			if patient == "" {
				patient = c.QueryParam("patient_id")
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()

			evt := logger.Info()
			if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("roles", auth.RolesFromContext(ctx)).
				Str("action", action).
				Str("resource", resource).
				Str("resource_id", id).
				Str("patient_id", patient).
				Int("status", status).
				Str("remote_ip", c.RealIP()).
				Msg("patient_movement")

			return err
		}
	}
}

// auditTarget splits an /api/v1 path into resource, id and action. A
// trailing verb segment such as /admissions/:id/discharge names the action;
// otherwise it follows the method.
//
//	POST  /api/v1/admissions               -> admissions, "", admit
//	POST  /api/v1/admissions/42/discharge  -> admissions, 42, discharge
//	PATCH /api/v1/beds/7                   -> beds, 7, update
func auditTarget(method, path string) (resource, id, action string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	resource = segs[0]
	if len(segs) > 1 {
		id = segs[1]
	}
	if len(segs) > 2 {
		return resource, id, segs[2]
	}
	switch method {
	case http.MethodPost:
		if resource == "admissions" {
			return resource, id, "admit"
		}
		return resource, id, "create"
	case http.MethodPut, http.MethodPatch:
		return resource, id, "update"
	case http.MethodDelete:
		return resource, id, "delete"
	}
	return resource, id, strings.ToLower(method)
}
