package main

import (
	"net/http"

	"github.com/homehealth/pdgm/internal/platform/openapi"
)

func describeRoutes(g *openapi.Generator) {
	g.Describe(http.MethodPost, "/api/v1/pdgm/hipps", openapi.Operation{Summary: "Calculate a HIPPS code and its revenue", RequestBody: true})
	g.Describe(http.MethodGet, "/api/v1/pdgm/hipps/:code", openapi.Operation{Summary: "Decode a HIPPS code"})
	g.Describe(http.MethodPost, "/api/v1/pdgm/optimize", openapi.Operation{Summary: "Compare documented and suggested functional scoring", RequestBody: true})
	g.Describe(http.MethodGet, "/api/v1/pdgm/clinical-groups", openapi.Operation{Summary: "List clinical groups"})
	g.Describe(http.MethodGet, "/api/v1/pdgm/clinical-groups/:icd10", openapi.Operation{Summary: "Classify a primary diagnosis"})
	g.Describe(http.MethodGet, "/api/v1/pdgm/calculations", openapi.Operation{Summary: "List stored calculations"})
	g.Describe(http.MethodGet, "/api/v1/pdgm/calculations/:id", openapi.Operation{Summary: "Get a stored calculation"})
	g.Describe(http.MethodPost, "/api/v1/oasis/analyses", openapi.Operation{Summary: "Extract, validate and price an OASIS document", RequestBody: true, Success: http.StatusCreated})
	g.Describe(http.MethodPost, "/api/v1/oasis/validate", openapi.Operation{Summary: "Validate a supplied extraction without storing it", RequestBody: true})
	g.Describe(http.MethodGet, "/api/v1/oasis/analyses", openapi.Operation{Summary: "List stored analyses"})
	g.Describe(http.MethodGet, "/api/v1/oasis/analyses/:id", openapi.Operation{Summary: "Get a stored analysis report"})
	g.Describe(http.MethodGet, "/api/v1/openapi.json", openapi.Operation{Summary: "This document"})
	g.Describe(http.MethodGet, "/api/v1/docs", openapi.Operation{Summary: "Swagger UI"})
}
