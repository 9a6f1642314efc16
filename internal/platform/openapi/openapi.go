package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation documents one route.
type Operation struct {
	Summary     string
	RequestBody bool
	// Success is the status returned on success; 0 means 200.
	Success int
}

// Generator builds an OpenAPI 3.0 document from the routes registered on an
// echo instance, so the document never lists an endpoint that is not served.
type Generator struct {
	title   string
	version string
	baseURL string
	prefix  string
	routes  func() []*echo.Route
	ops     map[string]Operation
}

// NewGenerator documents every route whose path starts with prefix.
func NewGenerator(title, version, baseURL, prefix string, routes func() []*echo.Route) *Generator {
	return &Generator{
		title:   title,
		version: version,
		baseURL: baseURL,
		prefix:  prefix,
		routes:  routes,
		ops:     make(map[string]Operation),
	}
}

// Describe attaches documentation to a route. path uses echo syntax.
func (g *Generator) Describe(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if !documentable(r, g.prefix) {
			continue
		}
		oaPath, params := convertPath(r.Path)
		item, _ := paths[oaPath].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[oaPath] = item
		}
		item[strings.ToLower(r.Method)] = g.buildOperation(r, params)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message":    map[string]string{"type": "string"},
						"request_id": map[string]string{"type": "string"},
					},
				},
			},
		},
	}
}

func (g *Generator) buildOperation(r *echo.Route, params []string) map[string]interface{} {
	op, ok := g.ops[r.Method+" "+r.Path]
	if !ok {
		op.Summary = r.Method + " " + r.Path
	}
	success := op.Success
	if success == 0 {
		success = http.StatusOK
	}

	out := map[string]interface{}{
		"summary": op.Summary,
		"tags":    []string{tagFor(strings.TrimPrefix(r.Path, g.prefix))},
		"responses": map[string]interface{}{
			strconv.Itoa(success): jsonResponse(http.StatusText(success), map[string]string{"type": "object"}),
			"default":          jsonResponse("Error", map[string]string{"$ref": "#/components/schemas/Error"}),
		},
	}
	if len(params) > 0 {
		ps := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			ps = append(ps, map[string]interface{}{
				"name": p, "in": "path", "required": true, "schema": map[string]string{"type": "string"},
			})
		}
		out["parameters"] = ps
	}
	if op.RequestBody {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		}
	}
	return out
}

var methods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// documentable skips routes outside the prefix and the catch-all routes echo
// adds for group middleware.
func documentable(r *echo.Route, prefix string) bool {
	if !methods[r.Method] || strings.Contains(r.Path, "*") {
		return false
	}
	return strings.HasPrefix(r.Path, prefix) && r.Path != prefix
}

// convertPath rewrites echo ":param" segments as "{param}".
func convertPath(path string) (string, []string) {
	segs := strings.Split(path, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

// tagFor is the first path segment after the prefix.
func tagFor(rest string) string {
	rest = strings.TrimPrefix(rest, "/")
	tag, _, _ := strings.Cut(rest, "/")
	if tag == "" {
		return "default"
	}
	return tag
}

func jsonResponse(description string, schema map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>PDGM API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/api/v1/openapi.json", dom_id: '#swagger-ui', deepLinking: true })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
