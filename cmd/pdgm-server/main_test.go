package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/homehealth/pdgm/internal/config"
	"github.com/homehealth/pdgm/internal/domain/oasis"
	"github.com/homehealth/pdgm/internal/domain/pdgm"
	"github.com/homehealth/pdgm/internal/platform/db"
)

const hippsParams = `{
  "admission_source": "community",
  "timing": "early",
  "primary_diagnosis": "I50.9",
  "functional_scores": {"M1800_Grooming": 2, "M1830_Bathing": 3, "M1860_Ambulation": 2},
  "secondary_diagnoses_count": 1
}`

func testConfig() *config.Config {
	return &config.Config{
		Env:               "test",
		CORSOrigins:       []string{"http://localhost:3000"},
		RateLimitRPS:      100,
		RateLimitBurst:    100,
		RequestTimeout:    5 * time.Second,
		BodyLimit:         "1MB",
		DocumentBodyLimit: "2MB",
		PDGMBaseRate:      pdgm.DefaultBaseRate,
		AITimeout:         time.Minute,
		AIMaxAttempts:     3,
	}
}

func testServer(t *testing.T) *server {
	t.Helper()
	cfg := testConfig()
	engine, err := buildEngine(cfg)
	if err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	pdgmSvc, oasisSvc, err := newServices(cfg, engine, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	return &server{cfg: cfg, logger: zerolog.Nop(), pdgm: pdgmSvc, oasis: oasisSvc}
}

func TestRoutes_Health(t *testing.T) {
	e := testServer(t).routes()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request ID header")
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
}

func TestRoutes_OptionalHealthChecks(t *testing.T) {
	e := testServer(t).routes()
	for _, path := range []string{"/health/db", "/health/cache"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 without a backend, got %d", path, rec.Code)
		}
	}
}

func TestRoutes_CalculateHIPPS(t *testing.T) {
	e := testServer(t).routes()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pdgm/hipps", strings.NewReader(hippsParams))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out pdgm.HIPPSResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.HIPPSCode) != 5 || out.Revenue <= 0 {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestRoutes_AnalyzeWithoutExtractor(t *testing.T) {
	e := testServer(t).routes()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oasis/analyses", strings.NewReader(`{"document_text":"M1800 Grooming: 2"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without AI_API_KEY, got %d", rec.Code)
	}
}

func TestRoutes_DocumentBodyLimit(t *testing.T) {
	s := testServer(t)
	s.cfg.DocumentBodyLimit = "1KB"
	e := s.routes()

	big := `{"document_text":"` + strings.Repeat("x", 4096) + `","analysis":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oasis/validate", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestNewServices_WithAI(t *testing.T) {
	cfg := testConfig()
	cfg.AIAPIKey = "sk-test"
	cfg.AIBaseURL = "http://localhost:1/v1"
	if _, _, err := newServices(cfg, pdgm.NewEngine(nil, 0), nil, nil, zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServices_RejectsBadPHIKey(t *testing.T) {
	cfg := testConfig()
	cfg.PHIEncryptionKey = "not-hex"
	if _, _, err := newServices(cfg, pdgm.NewEngine(nil, 0), nil, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for a malformed PHI key")
	}
}

func TestBuildEngine_TablesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	if err := os.WriteFile(path, []byte("case_mix_weights:\n  1FC21: 1.2345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.PDGMTablesFile = path
	cfg.PDGMBaseRate = 2000

	engine, err := buildEngine(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.BaseRate() != 2000 {
		t.Errorf("expected base rate 2000, got %v", engine.BaseRate())
	}
	if rev := engine.CalculateRevenue("1FC21"); rev.CaseMixWeight != 1.2345 {
		t.Errorf("expected overridden weight, got %+v", rev)
	}
}

func TestBuildEngine_MissingFiles(t *testing.T) {
	cfg := testConfig()
	cfg.PDGMTablesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildEngine(cfg); err == nil {
		t.Error("expected error for missing tables file")
	}

	cfg = testConfig()
	cfg.PDGMCaseMixParquet = filepath.Join(t.TempDir(), "missing.parquet")
	if _, err := buildEngine(cfg); err == nil {
		t.Error("expected error for missing parquet file")
	}
}

func TestRunHIPPS(t *testing.T) {
	var out bytes.Buffer
	if err := runHIPPS(pdgm.NewEngine(nil, 0), strings.NewReader(hippsParams), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res pdgm.HIPPSResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.HIPPSCode == "" {
		t.Error("expected a HIPPS code")
	}
}

func TestRunHIPPS_InvalidInput(t *testing.T) {
	engine := pdgm.NewEngine(nil, 0)
	if err := runHIPPS(engine, strings.NewReader("{"), &bytes.Buffer{}); err == nil {
		t.Error("expected decode error")
	}
	bad := `{"primary_diagnosis":"I50.9","functional_scores":{"M1800_Grooming":9}}`
	err := runHIPPS(engine, strings.NewReader(bad), &bytes.Buffer{})
	if !pdgm.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRunValidate(t *testing.T) {
	analysis := `{
  "patientInfo": {"patientName": "Jane Doe", "visitDate": "2024-03-14"},
  "primaryDiagnosis": {"code": "I50.9", "description": "Heart failure"},
  "functionalStatus": [
    {"item": "M1830 - Bathing", "currentValue": "2", "suggestedValue": "4"},
    {"item": "M1845 - Toileting Hygiene", "currentValue": "2"}
  ]
}`
	text := "Skilled nursing visit. Bathing M1830 needs assistance."

	var out bytes.Buffer
	err := runValidate(context.Background(), pdgm.NewEngine(nil, 0), zerolog.Nop(), text, []byte(analysis), "community", "early", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rep oasis.Report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Analysis.FunctionalStatus) != 1 {
		t.Errorf("expected the ungrounded M1845 item dropped, got %+v", rep.Analysis.FunctionalStatus)
	}
	if rep.Source != oasis.SourceSupplied {
		t.Errorf("expected source %q, got %q", oasis.SourceSupplied, rep.Source)
	}
	if rep.Optimization == nil {
		t.Errorf("expected an optimization, note: %q", rep.OptimizationNote)
	}
}

func TestRunValidate_BadJSON(t *testing.T) {
	err := runValidate(context.Background(), pdgm.NewEngine(nil, 0), zerolog.Nop(), "x", []byte("not json"), "community", "early", &bytes.Buffer{})
	if err == nil {
		t.Error("expected decode error")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
	var out bytes.Buffer
	printMigrationStatus(&out, []db.MigrationStatus{
		{Version: 1, Name: "oasis_analysis", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "pdgm_calculation"},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %q", out.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2024-03-14 09:30:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestOpenInput(t *testing.T) {
	r, closeFn, err := openInput("-")
	if err != nil || r != os.Stdin {
		t.Errorf("expected stdin, got %v %v", r, err)
	}
	closeFn()

	if _, _, err := openInput(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRoutes_OpenAPIListsServedRoutes(t *testing.T) {
	e := testServer(t).routes()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var spec struct {
		Paths map[string]map[string]struct {
			Summary string `json:"summary"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range e.Routes() {
		if !strings.HasPrefix(r.Path, "/api/v1/") || strings.Contains(r.Path, "*") {
			continue
		}
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			continue
		}
		path := r.Path
		for _, seg := range []string{":code", ":icd10", ":id"} {
			path = strings.Replace(path, seg, "{"+seg[1:]+"}", 1)
		}
		op, ok := spec.Paths[path][strings.ToLower(r.Method)]
		if !ok {
			t.Errorf("%s %s is served but not documented", r.Method, r.Path)
			continue
		}
		if strings.HasPrefix(op.Summary, r.Method+" ") {
			t.Errorf("%s %s has no description", r.Method, r.Path)
		}
	}
}
