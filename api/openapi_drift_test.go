package api

import (
	"maps"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIOperation struct {
	OperationID string         `yaml:"operationId"`
	Responses   map[string]any `yaml:"responses"`
}

type openAPIDoc struct {
	Paths map[string]map[string]yaml.Node `yaml:"paths"`
}

var httpMethods = []string{"get", "put", "post", "delete", "patch", "head", "options"}

// documentedOperations returns the operations of openapi.yaml keyed by
// "METHOD /path".
func documentedOperations(t *testing.T) map[string]openAPIOperation {
	t.Helper()
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))

	ops := make(map[string]openAPIOperation)
	for path, item := range doc.Paths {
		for key, node := range item {
			if !slices.Contains(httpMethods, key) {
				continue
			}
			var op openAPIOperation
			require.NoError(t, node.Decode(&op), "%s %s", key, path)
			ops[strings.ToUpper(key)+" "+path] = op
		}
	}
	return ops
}

// routedOperations walks the router and returns its routes in OpenAPI form.
// A trailing wildcard captures a store path and is documented as {path}.
func routedOperations(t *testing.T) map[string]bool {
	t.Helper()
	a := &API{}
	routes := make(map[string]bool)
	err := chi.Walk(a.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		if base, ok := strings.CutSuffix(route, "/*"); ok {
			route = base + "/{path}"
		}
		routes[method+" "+route] = true
		return nil
	})
	require.NoError(t, err)
	return routes
}

func TestOpenAPIMatchesRouter(t *testing.T) {
	documented := documentedOperations(t)
	routed := routedOperations(t)

	var undocumented, stale []string
	for route := range routed {
		if _, ok := documented[route]; !ok {
			undocumented = append(undocumented, route)
		}
	}
	for route := range documented {
		if !routed[route] {
			stale = append(stale, route)
		}
	}
	slices.Sort(undocumented)
	slices.Sort(stale)
	assert.Empty(t, undocumented, "routes missing from openapi.yaml")
	assert.Empty(t, stale, "openapi.yaml paths without a route")
}

func TestOpenAPIOperationsAreComplete(t *testing.T) {
	documented := documentedOperations(t)
	ids := make(map[string]string)
	for _, route := range slices.Sorted(maps.Keys(documented)) {
		op := documented[route]
		if assert.NotEmpty(t, op.OperationID, "%s has no operationId", route) {
			if other, dup := ids[op.OperationID]; dup {
				t.Errorf("operationId %q used by %s and %s", op.OperationID, other, route)
			}
			ids[op.OperationID] = route
		}
		assert.NotEmpty(t, op.Responses, "%s documents no responses", route)
	}
}
