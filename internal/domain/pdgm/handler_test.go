package pdgm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestHandler_CalculateHIPPS(t *testing.T) {
	h, e := newTestHandler()
	body := `{"admission_source":"institutional","timing":"early","primary_diagnosis":"I50.9",
		"secondary_diagnoses_count":5,
		"functional_scores":{"M1800_Grooming":3,"M1810_UpperBodyDressing":2,"M1820_LowerBodyDressing":2,
		"M1830_Bathing":3,"M1840_ToiletTransferring":2,"M1845_ToiletingHygiene":2,"M1850_Transferring":2,
		"M1860_Ambulation":1,"M1870_Feeding":3}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CalculateHIPPS(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["hipps_code"] != "2HD14" {
		t.Errorf("expected 2HD14, got %v", out["hipps_code"])
	}
	if out["revenue"] != 2899.33 {
		t.Errorf("expected 2899.33, got %v", out["revenue"])
	}
	if out["comorbidity_level"] != "High Comorbidity Adjustment" {
		t.Errorf("unexpected comorbidity label %v", out["comorbidity_level"])
	}
}

func TestHandler_CalculateHIPPS_OutOfRange(t *testing.T) {
	h, e := newTestHandler()
	body := `{"primary_diagnosis":"I50.9","functional_scores":{"M1830_Bathing":9}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPStatus(t, h.CalculateHIPPS(c), http.StatusBadRequest)
}

func TestHandler_CalculateHIPPS_BadJSON(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"timing":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPStatus(t, h.CalculateHIPPS(c), http.StatusBadRequest)
}

func TestHandler_Optimize(t *testing.T) {
	h, e := newTestHandler()
	body := `{"admission_source":"community","timing":"early","primary_diagnosis":"I50.9",
		"current_scores":{"M1800_Grooming":3,"M1810_UpperBodyDressing":2,"M1820_LowerBodyDressing":2,
		"M1830_Bathing":3,"M1840_ToiletTransferring":2,"M1845_ToiletingHygiene":2,"M1850_Transferring":2,
		"M1860_Ambulation":1,"M1870_Feeding":3},
		"suggested_scores":{"M1800_Grooming":3,"M1810_UpperBodyDressing":3,"M1820_LowerBodyDressing":3,
		"M1830_Bathing":4,"M1840_ToiletTransferring":2,"M1845_ToiletingHygiene":3,"M1850_Transferring":2,
		"M1860_Ambulation":3,"M1870_Feeding":3}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Optimize(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["increase"] != 334.25 || out["percent_increase"] != 16.46 {
		t.Errorf("unexpected optimization: %v / %v", out["increase"], out["percent_increase"])
	}
}

func TestHandler_ClassifyDiagnosis(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("icd10")
	c.SetParamValues("I63.9")

	if err := h.ClassifyDiagnosis(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var g ClinicalGroup
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.Code != "B" || g.Name != "Neuro Rehabilitation" {
		t.Errorf("unexpected group %+v", g)
	}
}

func TestHandler_DecodeHIPPS(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("1HD11")

	if err := h.DecodeHIPPS(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_DecodeHIPPS_Invalid(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("XX")

	expectHTTPStatus(t, h.DecodeHIPPS(c), http.StatusBadRequest)
}

func TestHandler_ListCalculations(t *testing.T) {
	h, e := newTestHandler()
	for i := 0; i < 3; i++ {
		if _, err := h.svc.CalculateHIPPS(context.Background(), HIPPSParams{PrimaryDiagnosis: "I50.9"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListCalculations(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out struct {
		Data    []Calculation `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 3 || len(out.Data) != 2 || !out.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", out.Total, len(out.Data), out.HasMore)
	}
}

func TestHandler_GetCalculation_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectHTTPStatus(t, h.GetCalculation(c), http.StatusBadRequest)
}

type brokenCalculationRepo struct {
	*mockCalculationRepo
}

func (brokenCalculationRepo) GetByID(context.Context, uuid.UUID) (*Calculation, error) {
	return nil, errors.New("connection reset by peer")
}

func getCalculation(t *testing.T, h *Handler, id string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return h.GetCalculation(c)
}

func TestHandler_GetCalculation_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	expectHTTPStatus(t, getCalculation(t, h, uuid.New().String()), http.StatusNotFound)
}

func TestHandler_GetCalculation_RepositoryError(t *testing.T) {
	repo := brokenCalculationRepo{newMockCalculationRepo()}
	h := NewHandler(NewService(NewEngine(nil, 0), repo, zerolog.Nop()))
	expectHTTPStatus(t, getCalculation(t, h, uuid.New().String()), http.StatusInternalServerError)
}
