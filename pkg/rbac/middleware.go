package rbac

import (
	"net/http"

	"github.com/agrinova/authd/pkg/httputil"
	"github.com/agrinova/authd/pkg/middleware"
)

// PermissionMiddleware guards handlers with engine decisions
type PermissionMiddleware struct {
	engine *Engine
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(engine *Engine) *PermissionMiddleware {
	return &PermissionMiddleware{
		engine: engine,
	}
}

// RequirePermission creates middleware that requires a specific permission.
// The company scope is taken from the X-Company-ID header when present.
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := middleware.GetPrincipal(r)
			if p == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !pm.engine.HasPermission(p, permission, r.Header.Get(HeaderCompanyID)) {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction creates middleware that requires a named action
func (pm *PermissionMiddleware) RequireAction(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := middleware.GetPrincipal(r)
			if p == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !pm.engine.CanPerformAction(p, action, r.Header.Get(HeaderCompanyID)) {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPattern creates middleware that admits callers matching any of
// the wildcard patterns
func (pm *PermissionMiddleware) RequireAnyPattern(patterns ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := middleware.GetPrincipal(r)
			if p == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !pm.engine.HasAnyWildcardPermission(p, patterns...) {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
