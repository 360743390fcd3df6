package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *Registry, *echo.Echo) {
	f := newFixture()
	reg := NewRegistry(f.deps())
	return NewHandler(reg), reg, echo.New()
}

func newPatientContext(e *echo.Echo, method, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := []string{"patientId"}
	values := []string{"p-1"}
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func expectHTTPCode(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_Get_NotOpen(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newPatientContext(e, http.MethodGet, "")
	expectHTTPCode(t, h.Get(c), http.StatusNotFound)
}

func TestHandler_OpenAndEdit(t *testing.T) {
	h, _, e := newTestHandler()

	c, rec := newPatientContext(e, http.MethodPost, `{"doctorId":"doc-3"}`)
	if err := h.Open(c); err != nil {
		t.Fatalf("open: %v", err)
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != StateEditing || v.Draft == nil || v.Draft.DoctorID != "doc-3" {
		t.Errorf("unexpected view: %+v", v)
	}

	c, _ = newPatientContext(e, http.MethodPatch, `{"chiefComplaint":"Cough"}`)
	if err := h.UpdateFields(c); err != nil {
		t.Fatalf("update: %v", err)
	}

	add := addLineHandler(h, (*Composer).AddLabTest)
	c, rec = newPatientContext(e, http.MethodPost, `{"testTypeId":"cbc","priority":"urgent"}`)
	if err := add(c); err != nil {
		t.Fatalf("add lab test: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = newPatientContext(e, http.MethodPost, `{"testTypeId":"cbc","priority":"routine"}`)
	expectHTTPCode(t, add(c), http.StatusUnprocessableEntity)

	c, _ = newPatientContext(e, http.MethodPost, `{"testTypeId":"lft","priority":"asap"}`)
	expectHTTPCode(t, add(c), http.StatusUnprocessableEntity)

	remove := removeLineHandler(h, (*Composer).RemoveLabTest)
	c, _ = newPatientContext(e, http.MethodDelete, "", "index", "4")
	expectHTTPCode(t, remove(c), http.StatusNotFound)
	c, _ = newPatientContext(e, http.MethodDelete, "", "index", "abc")
	expectHTTPCode(t, remove(c), http.StatusBadRequest)

	c, _ = newPatientContext(e, http.MethodPost, `{"confirm":false}`)
	expectHTTPCode(t, h.Close(c), http.StatusConflict)
}

func TestHandler_Submit(t *testing.T) {
	h, reg, e := newTestHandler()

	c, _ := newPatientContext(e, http.MethodPost, `{"doctorId":"doc-1"}`)
	if err := h.Open(c); err != nil {
		t.Fatalf("open: %v", err)
	}
	c, _ = newPatientContext(e, http.MethodPatch, `{"diagnosis":"Asthma"}`)
	if err := h.UpdateFields(c); err != nil {
		t.Fatalf("update: %v", err)
	}

	c, rec := newPatientContext(e, http.MethodPost, "")
	if err := h.Submit(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var out Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != StatusSuccess || out.MedicalRecordID != "mr-1" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if reg.Len() != 0 {
		t.Error("expected the closed composer to be released")
	}
}

func TestHandler_Options(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newPatientContext(e, http.MethodPost, "")
	if err := h.Open(c); err != nil {
		t.Fatalf("open: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?edit=x", nil)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues("p-1")
	expectHTTPCode(t, h.LabTestOptions(c), http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodGet, "/?selected=amox", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues("p-1")
	if err := h.MedicationOptions(c); err != nil {
		t.Fatalf("options: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_DosagePreview(t *testing.T) {
	h, _, e := newTestHandler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"calculated", `{"dosage":"500mg","frequency":"twice daily","duration":"5 days"}`, 5000},
		{"typed quantity wins", `{"dosage":"500mg","frequency":"twice daily","duration":"5 days","quantity":30,"quantityTouched":true}`, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newPatientContext(e, http.MethodPost, tt.body)
			if err := h.DosagePreview(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var resp dosageResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Quantity != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.Quantity)
			}
		})
	}
}
