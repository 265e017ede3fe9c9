package rbac

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/contextkeys"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	e, _ := newTestEngine(t)
	router := mux.NewRouter()
	NewHandlers(e).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, p *auth.Principal, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if p != nil {
		req = req.WithContext(contextkeys.WithPrincipal(req.Context(), p))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) bool {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp decisionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Allowed
}

func TestRegisterRoutes(t *testing.T) {
	router := newTestRouter(t)

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/authz/permission"},
		{"POST", "/authz/wildcard"},
		{"POST", "/authz/action"},
		{"POST", "/authz/resource-action"},
		{"GET", "/authz/resources/harvest"},
		{"GET", "/authz/analyze"},
		{"POST", "/authz/debug/permission"},
		{"POST", "/authz/debug/action"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			var match mux.RouteMatch
			assert.True(t, router.Match(req, &match), "route should exist")
		})
	}
}

func TestHandlers_RequireAuthentication(t *testing.T) {
	router := newTestRouter(t)
	w := doRequest(t, router, "POST", "/authz/permission", nil, permissionRequest{Permission: "harvest:read"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, "GET", "/authz/analyze", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_CheckPermission(t *testing.T) {
	router := newTestRouter(t)

	assert.True(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/permission", mandor(),
		permissionRequest{Permission: "harvest:create"})))
	assert.False(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/permission", mandor(),
		permissionRequest{Permission: "harvest:approve"})))
	assert.False(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/permission", mandor(),
		permissionRequest{Permission: "NOT VALID"})), "malformed input fails closed, not 4xx")

	req := httptest.NewRequest("POST", "/authz/permission", bytes.NewBufferString("{"))
	req = req.WithContext(contextkeys.WithPrincipal(req.Context(), mandor()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_CheckWildcard(t *testing.T) {
	router := newTestRouter(t)
	p := &auth.Principal{ID: "w", Role: auth.RoleMandor, ExplicitPermissions: []string{"harvest:create"}}

	assert.False(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/wildcard", p,
		wildcardRequest{Pattern: "harvest:create,read"})), "defaults to AND")
	assert.True(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/wildcard", p,
		wildcardRequest{Pattern: "harvest:create,read", Combinator: "or"})))
	assert.True(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/wildcard", p,
		wildcardRequest{Patterns: []string{"weighing:*", "harvest:*"}})))

	w := doRequest(t, router, "POST", "/authz/wildcard", p,
		wildcardRequest{Pattern: "harvest:create", Combinator: "xor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_CheckActions(t *testing.T) {
	router := newTestRouter(t)

	assert.True(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/action", asisten(),
		actionRequest{Action: "approve_harvest"})))
	assert.False(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/action", asisten(),
		actionRequest{Action: "launch_rocket"})))

	body := map[string]interface{}{
		"action": "approve_harvest",
		"resource": map[string]interface{}{
			"type": "harvest",
			"id":   "h-1",
			"context": map[string]interface{}{
				"divisionId": "div-2",
				"assignedTo": []string{"asisten-1"},
			},
		},
	}
	assert.True(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/resource-action", asisten(), body)))

	body["resource"].(map[string]interface{})["context"] = map[string]interface{}{"divisionId": "div-2"}
	assert.False(t, decodeDecision(t, doRequest(t, router, "POST", "/authz/resource-action", asisten(), body)))
}

func TestHandlers_GetResourcePermissions(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/authz/resources/harvest?id=h-1&divisionId=div-1&createdBy=mandor-1", mandor(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rp ResourcePermissions
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rp))
	assert.Equal(t, "h-1", rp.ResourceID)
	assert.True(t, rp.CanUpdate)
	assert.False(t, rp.CanDelete)
	assert.Contains(t, rp.AvailableActions, ActionName("create_harvest"))
}

func TestHandlers_Introspection(t *testing.T) {
	router := newTestRouter(t)
	admin := &auth.Principal{ID: "ca-1", Role: auth.RoleCompanyAdmin, CompanyAdminFor: []string{"c-1"}}

	w := doRequest(t, router, "GET", "/authz/analyze", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var analysis PermissionAnalysis
	require.NoError(t, json.NewDecoder(w.Body).Decode(&analysis))
	assert.Equal(t, auth.RoleCompanyAdmin, analysis.Role)
	assert.Contains(t, analysis.EffectivePermissions, "user:manage")

	w = doRequest(t, router, "POST", "/authz/debug/permission", admin, permissionRequest{Permission: "user:create"})
	require.Equal(t, http.StatusOK, w.Code)
	var tr Trace
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	assert.True(t, tr.Decision)
	assert.NotEmpty(t, tr.Steps)

	w = doRequest(t, router, "POST", "/authz/debug/action", admin, actionRequest{Action: "fly"})
	require.Equal(t, http.StatusOK, w.Code)
	tr = Trace{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	assert.False(t, tr.Decision)
	assert.NotEmpty(t, tr.Error)
}

func TestHandlers_IntrospectionRequiresUserManagement(t *testing.T) {
	router := newTestRouter(t)

	for _, p := range []*auth.Principal{asisten(), mandor()} {
		t.Run(string(p.Role), func(t *testing.T) {
			w := doRequest(t, router, "GET", "/authz/analyze", p, nil)
			assert.Equal(t, http.StatusForbidden, w.Code)

			w = doRequest(t, router, "POST", "/authz/debug/permission", p, permissionRequest{Permission: "harvest:approve"})
			assert.Equal(t, http.StatusForbidden, w.Code)

			w = doRequest(t, router, "POST", "/authz/debug/action", p, actionRequest{Action: "approve_harvest"})
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}

	w := doRequest(t, router, "GET", "/authz/analyze", &auth.Principal{ID: "sa", Role: auth.RoleSuperAdmin}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
