package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/auth"
)

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReusesInbound(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error { return nil })(c)
	if got := c.Get("request_id"); got != "abc-123" {
		t.Errorf("expected abc-123, got %v", got)
	}
}

func TestLogger_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admissions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	err := Logger(logger)(func(c echo.Context) error {
		zerolog.Ctx(c.Request().Context()).Info().Msg("inner")
		return echo.NewHTTPError(http.StatusConflict, "bed not available")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}

	out := buf.String()
	for _, want := range []string{`"request_id":"rid-1"`, `"status":409`, `"path":"/api/v1/admissions"`, `"message":"inner"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %s, got %s", want, out)
		}
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-9")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("boom")
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
	body, _ := httpErr.Message.(map[string]string)
	if body["kind"] != "internal" || strings.Contains(body["message"], "boom") {
		t.Errorf("panic detail leaked or kind missing: %v", httpErr.Message)
	}
	out := buf.String()
	for _, want := range []string{`"request_id":"rid-9"`, "boom", `"stack"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %s, got %s", want, out)
		}
	}
}

func TestRecovery_AbortHandlerPassesThrough(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	_ = Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	})(c)
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := h(c); err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				codes = append(codes, he.Code)
				if rec.Header().Get("Retry-After") == "" {
					t.Error("expected Retry-After header")
				}
				continue
			}
		}
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected [200 200 429], got %v", codes)
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip
		c := e.NewContext(req, httptest.NewRecorder())
		if err := h(c); err != nil {
			t.Errorf("client %s should have its own bucket, got %v", ip, err)
		}
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		deadline, ok := c.Request().Context().Deadline()
		if !ok {
			t.Error("expected a deadline")
		}
		if time.Until(deadline) > time.Second {
			t.Errorf("deadline too far: %v", deadline)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimit_KeysByTenant(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	for _, tenant := range []string{"st_marys", "north_wing"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1"
		c := e.NewContext(req, httptest.NewRecorder())
		c.Set("jwt_tenant_id", tenant)
		if err := h(c); err != nil {
			t.Errorf("tenant %s behind a shared address should have its own bucket, got %v", tenant, err)
		}
	}
}

func TestAudit_LogsPatientMovement(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		patient string
		action  string
		id      string
	}{
		{"admit", http.MethodPost, "/api/v1/admissions", "P-100", "admit", ""},
		{"discharge", http.MethodPost, "/api/v1/admissions/a1/discharge", "P-100", "discharge", "a1"},
		{"transfer", http.MethodPost, "/api/v1/admissions/a1/transfer", "P-100", "transfer", "a1"},
		{"bed update", http.MethodPatch, "/api/v1/beds/b7", "", "update", "b7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			req := httptest.NewRequest(tt.method, tt.path, nil)
			ctx := context.WithValue(req.Context(), auth.UserIDKey, "nurse-4")
			ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleNurse})
			req = req.WithContext(ctx)
			c := echo.New().NewContext(req, httptest.NewRecorder())
			c.Set("request_id", "rid-3")

			err := Audit(zerolog.New(&buf))(func(c echo.Context) error {
				if tt.patient != "" {
					c.Set(AuditPatientKey, tt.patient)
				}
				return c.NoContent(http.StatusOK)
			})(c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			out := buf.String()
			for _, want := range []string{
				`"message":"patient_movement"`,
				`"user_id":"nurse-4"`,
				`"action":"` + tt.action + `"`,
				`"resource_id":"` + tt.id + `"`,
				`"patient_id":"` + tt.patient + `"`,
				`"request_id":"rid-3"`,
			} {
				if !strings.Contains(out, want) {
					t.Errorf("expected %s in %s", want, out)
				}
			}
		})
	}
}

func TestAudit_SkipsReads(t *testing.T) {
	var buf bytes.Buffer
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/admissions", nil), httptest.NewRecorder())
	_ = Audit(zerolog.New(&buf))(func(c echo.Context) error { return nil })(c)
	if buf.Len() != 0 {
		t.Errorf("reads must not be audited, got %s", buf.String())
	}
}

func TestAudit_FailedWriteIsWarn(t *testing.T) {
	var buf bytes.Buffer
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/admissions/a1/discharge", nil), httptest.NewRecorder())
	err := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "admission is not active")
	})(c)
	if err == nil {
		t.Fatal("handler error must be returned")
	}
	if out := buf.String(); !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"status":409`) {
		t.Errorf("expected warn line with status 409, got %s", out)
	}
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(8)(func(c echo.Context) error {
		if _, err := io.ReadAll(c.Request().Body); err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	})
	e := echo.New()

	fits := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345678"))
	if err := h(e.NewContext(fits, httptest.NewRecorder())); err != nil {
		t.Errorf("body at the limit should pass, got %v", err)
	}

	declared := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456789"))
	err := h(e.NewContext(declared, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 from Content-Length, got %v", err)
	}

	chunked := httptest.NewRequest(http.MethodPost, "/", io.MultiReader(strings.NewReader("12345"), strings.NewReader("67890")))
	chunked.ContentLength = -1
	err = h(e.NewContext(chunked, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 while reading, got %v", err)
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512", 512, false},
		{"64K", 64 << 10, false},
		{"1m", 1 << 20, false},
		{"2MB", 2 << 20, false},
		{"1G", 1 << 30, false},
		{"", 0, true},
		{"lots", 0, true},
		{"-1K", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, %v; want %d, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/wards", nil), rec)
		if err := SecurityHeaders(hsts)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("missing api headers: %v", rec.Header())
		}
		if got := rec.Header().Get("Strict-Transport-Security") != ""; got != hsts {
			t.Errorf("hsts=%v but header present=%v", hsts, got)
		}
	}
}
