// Package rbac resolves authorization decisions for plantation principals.
//
// # Model
//
// A permission is a "resource:action" string such as "harvest:approve".
// Each role in the Catalog carries a fixed base permission set, display
// metadata and a scoping rule. A principal with explicit permissions is
// evaluated against those alone: they replace the role defaults entirely,
// they are never merged.
//
// Roles, highest first:
//
//	SUPER_ADMIN    global, every check passes
//	AREA_MANAGER   assigned companies
//	COMPANY_ADMIN  administered companies
//	MANAGER        assigned estates
//	ASISTEN        assigned divisions, or records assigned to them
//	MANDOR         own records inside their division or estate
//	SATPAM         assigned estates
//	TIMBANGAN      assigned estates
//	GRADING        assigned estates
//
// The catalog can be loaded from YAML with LoadRoleDefinitions; the shape is
// the one DefaultRoleDefinitions produces.
//
// # Checks
//
//	engine := rbac.NewEngine(nil, rbac.WithMetrics(metrics), rbac.WithLogger(logger))
//
//	engine.HasPermission(p, "harvest:read", companyID)
//	engine.HasWildcardPermission(p, "harvest:create,read", rbac.And)
//	engine.HasAnyWildcardPermission(p, "report:*", "harvest:approve")
//	engine.CanPerformAction(p, "approve_harvest", "")
//	engine.CanPerformResourceAction(p, "approve_harvest", rbac.Resource{
//		Type:    rbac.ResourceHarvest,
//		ID:      "h-17",
//		Context: rbac.ResourceContext{DivisionID: "div-3"},
//	})
//
// Every check fails closed. Unknown roles, unknown actions and malformed
// permission strings resolve to false, are logged at warn level and counted
// in authd_authz_resolution_errors_total. Callers never see the error; the
// Debug* methods expose it for tooling.
//
// # Caching
//
// Decisions are memoized per principal in a permcache.Cache for a short TTL
// (5s by default). Call Invalidate after a principal's role or assignments
// change. Debug traces read the cache without updating it.
//
// # HTTP
//
// Handlers serves the query API under /authz for the authenticated caller,
// and PermissionMiddleware guards other handlers:
//
//	pm := rbac.NewPermissionMiddleware(engine)
//	router.Handle("/harvests/{id}/approve",
//		pm.RequireAction("approve_harvest")(approveHandler))
package rbac
