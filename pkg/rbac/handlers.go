package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/httputil"
	"github.com/agrinova/authd/pkg/middleware"
)

const (
	// HeaderCompanyID carries the company a request operates on
	HeaderCompanyID = "X-Company-ID"

	// IntrospectionPermission is required for the analyze and debug routes,
	// which reveal how decisions are made
	IntrospectionPermission = "user:manage"
)

// Handlers exposes the query API for the authenticated principal
type Handlers struct {
	engine *Engine
}

// NewHandlers creates new authorization query handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers all authorization query routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/permission", h.CheckPermission).Methods("POST")
	router.HandleFunc("/authz/wildcard", h.CheckWildcard).Methods("POST")
	router.HandleFunc("/authz/action", h.CheckAction).Methods("POST")
	router.HandleFunc("/authz/resource-action", h.CheckResourceAction).Methods("POST")
	router.HandleFunc("/authz/resources/{type}", h.GetResourcePermissions).Methods("GET")

	// Introspection, never authoritative, limited to user administrators
	guard := NewPermissionMiddleware(h.engine).RequirePermission(IntrospectionPermission)
	router.Handle("/authz/analyze", guard(http.HandlerFunc(h.AnalyzePermissions))).Methods("GET")
	router.Handle("/authz/debug/permission", guard(http.HandlerFunc(h.DebugPermission))).Methods("POST")
	router.Handle("/authz/debug/action", guard(http.HandlerFunc(h.DebugAction))).Methods("POST")
}

type decisionResponse struct {
	Allowed bool `json:"allowed"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
	CompanyID  string `json:"company_id,omitempty"`
}

type wildcardRequest struct {
	Pattern    string   `json:"pattern,omitempty"`
	Combinator string   `json:"combinator,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`
}

type actionRequest struct {
	Action    string `json:"action"`
	CompanyID string `json:"company_id,omitempty"`
}

type resourceActionRequest struct {
	Action   string   `json:"action"`
	Resource Resource `json:"resource"`
}

// CheckPermission answers HasPermission
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: h.engine.HasPermission(p, req.Permission, req.CompanyID)})
}

// CheckWildcard answers HasWildcardPermission, or HasAnyWildcardPermission
// when a pattern list is given. The combinator defaults to AND.
func (h *Handlers) CheckWildcard(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req wildcardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if len(req.Patterns) > 0 {
		httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: h.engine.HasAnyWildcardPermission(p, req.Patterns...)})
		return
	}

	comb := And
	if req.Combinator != "" {
		c, ok := ParseCombinator(req.Combinator)
		if !ok {
			httputil.WriteBadRequest(w, "combinator must be AND or OR")
			return
		}
		comb = c
	}
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: h.engine.HasWildcardPermission(p, req.Pattern, comb)})
}

// CheckAction answers CanPerformAction
func (h *Handlers) CheckAction(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: h.engine.CanPerformAction(p, req.Action, req.CompanyID)})
}

// CheckResourceAction answers CanPerformResourceAction
func (h *Handlers) CheckResourceAction(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req resourceActionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: h.engine.CanPerformResourceAction(p, req.Action, req.Resource)})
}

// GetResourcePermissions projects the caller's permissions on one resource.
// The resource context comes from query parameters.
func (h *Handlers) GetResourcePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	rt := ResourceType(mux.Vars(r)["type"])
	q := r.URL.Query()
	ctx := ResourceContext{
		CompanyID:  q.Get("companyId"),
		EstateID:   q.Get("estateId"),
		DivisionID: q.Get("divisionId"),
		BlockID:    q.Get("blockId"),
		OwnerID:    q.Get("ownerId"),
		CreatedBy:  q.Get("createdBy"),
		AssignedTo: q["assignedTo"],
		Status:     q.Get("status"),
	}

	httputil.WriteJSON(w, http.StatusOK, h.engine.ResourcePermissions(p, rt, q.Get("id"), ctx))
}

// AnalyzePermissions returns a snapshot of the caller's permission model
func (h *Handlers) AnalyzePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.engine.AnalyzeUserPermissions(p))
}

// DebugPermission replays a permission check step by step
func (h *Handlers) DebugPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.engine.DebugPermissionCheck(p, req.Permission, req.CompanyID))
}

// DebugAction replays an action check step by step
func (h *Handlers) DebugAction(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.engine.DebugActionCheck(p, req.Action, req.CompanyID))
}

func principalOrReject(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := middleware.GetPrincipal(r)
	if p == nil {
		httputil.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return p, true
}
