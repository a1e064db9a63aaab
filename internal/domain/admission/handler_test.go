package admission_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/platform/middleware"
)

func newTestHandler(t *testing.T) (*admission.Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t, admission.Options{})
	return admission.NewHandler(f.engine), f, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_CreateAdmission(t *testing.T) {
	h, f, e := newTestHandler(t)
	w := f.ward(t, "A", 2)
	b := f.bed(t, w, "B1")

	body := `{"patient_id":"P1","staff_id":"S1","ward_id":"` + w.ID.String() + `","bed_id":"` + b.ID.String() + `","admission_type":"emergency"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	if err := h.CreateAdmission(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if got := c.Get(middleware.AuditPatientKey); got != "P1" {
		t.Errorf("expected audit patient P1, got %v", got)
	}
	var a admission.Admission
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Status != admission.StatusAdmitted || a.BedID != b.ID {
		t.Errorf("unexpected admission: %+v", a)
	}

	err := h.CreateAdmission(e.NewContext(jsonRequest(http.MethodPost, strings.Replace(body, "P1", "P2", 1)), httptest.NewRecorder()))
	if code := statusOf(t, err); code != http.StatusConflict {
		t.Errorf("expected 409 for occupied bed, got %d", code)
	}
}

func TestHandler_DischargePatient(t *testing.T) {
	h, f, e := newTestHandler(t)
	w := f.ward(t, "A", 2)
	a := f.admit(t, "P1", w, f.bed(t, w, "B1"))
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly)

	body := `{"discharge_date":"` + tomorrow + `","discharge_time":"10:30","discharge_disposition":"recovered"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DischargePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got admission.Admission
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.DischargedAt == nil || got.DischargedAt.Format("2006-01-02 15:04") != tomorrow+" 10:30" {
		t.Errorf("unexpected discharge time: %v", got.DischargedAt)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if code := statusOf(t, h.DischargePatient(c)); code != http.StatusConflict {
		t.Errorf("expected 409 on second discharge, got %d", code)
	}
}

func TestHandler_DischargePatient_BadInput(t *testing.T) {
	h, f, e := newTestHandler(t)
	w := f.ward(t, "A", 2)
	a := f.admit(t, "P1", w, f.bed(t, w, "B1"))

	for _, body := range []string{
		`{"discharge_date":"13/01/2026","discharge_disposition":"recovered"}`,
		`{"discharge_time":"25:99","discharge_disposition":"recovered"}`,
		`{"discharge_disposition":"vanished"}`,
	} {
		c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(a.ID.String())
		if code := statusOf(t, h.DischargePatient(c)); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, code)
		}
	}
}

func TestHandler_TransferPatient(t *testing.T) {
	h, f, e := newTestHandler(t)
	w1, w2 := f.ward(t, "A", 2), f.ward(t, "B", 2)
	a := f.admit(t, "P1", w1, f.bed(t, w1, "A1"))
	target := f.bed(t, w2, "B1")

	body := `{"new_ward_id":"` + w2.ID.String() + `","new_bed_id":"` + target.ID.String() + `","notes":"step-down"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.TransferPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res admission.TransferResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.From == nil || res.To == nil || res.To.BedID != target.ID {
		t.Fatalf("unexpected result: %s", rec.Body.String())
	}
}

func TestHandler_GetAdmission(t *testing.T) {
	h, f, e := newTestHandler(t)
	w := f.ward(t, "A", 2)
	a := f.admit(t, "P1", w, f.bed(t, w, "B1"))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetAdmission(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bogus")
	if code := statusOf(t, h.GetAdmission(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListAdmissions(t *testing.T) {
	h, f, e := newTestHandler(t)
	w := f.ward(t, "A", 2)
	f.admit(t, "P1", w, f.bed(t, w, "B1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admissions?ward_id="+w.ID.String()+"&status=admitted", nil)
	if err := h.ListAdmissions(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1, got %d", resp.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admissions?bed_id=x", nil)
	if code := statusOf(t, h.ListAdmissions(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
