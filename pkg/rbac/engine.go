package rbac

import (
	"strings"
	"time"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/observability"
	"github.com/agrinova/authd/pkg/permcache"
)

// Engine resolves authorization decisions. All query methods fail closed:
// any error resolves to false, is logged, counted, and visible only through
// the Debug* traces.
type Engine struct {
	catalog *Catalog
	actions *ActionRegistry
	cache   *permcache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithCache sets the decision cache shared by all checks
func WithCache(c *permcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithActionRegistry replaces the built-in action registry
func WithActionRegistry(r *ActionRegistry) Option {
	return func(e *Engine) { e.actions = r }
}

// WithLogger sets the logger used for failed-closed checks
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over catalog. A nil catalog uses the built-in
// role definitions.
func NewEngine(catalog *Catalog, opts ...Option) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Engine{catalog: catalog}
	for _, opt := range opts {
		opt(e)
	}
	if e.actions == nil {
		e.actions = DefaultActionRegistry()
	}
	if e.cache == nil {
		e.cache = permcache.New(nil, permcache.WithMetrics(e.metrics))
	}
	e.logger = observability.OrNop(e.logger).WithComponent("rbac")
	return e
}

// Catalog returns the role catalog
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Actions returns the action registry
func (e *Engine) Actions() *ActionRegistry { return e.actions }

// Invalidate drops every cached decision for principalID
func (e *Engine) Invalidate(principalID string) int {
	return e.cache.Invalidate(principalID)
}

// HasPermission reports whether p holds permission, optionally within
// companyID.
func (e *Engine) HasPermission(p *auth.Principal, permission, companyID string) bool {
	start := time.Now()
	allowed, err := e.resolvePermission(p, permission, companyID, nil)
	e.finish("permission", permission, p, allowed, err, start)
	return allowed
}

// HasWildcardPermission evaluates resource:* or resource:a,b under comb
func (e *Engine) HasWildcardPermission(p *auth.Principal, pattern string, comb Combinator) bool {
	start := time.Now()
	allowed, err := e.resolvePattern(p, pattern, comb, nil)
	e.finish("wildcard", pattern, p, allowed, err, start)
	return allowed
}

// HasAnyWildcardPermission reports whether any pattern matches, each list
// pattern evaluated under OR. A malformed pattern is skipped, not fatal.
func (e *Engine) HasAnyWildcardPermission(p *auth.Principal, patterns ...string) bool {
	start := time.Now()
	allowed := false
	for _, pattern := range patterns {
		ok, err := e.resolvePattern(p, pattern, Or, nil)
		if err != nil {
			e.reportError("wildcard_any", pattern, p, err)
			continue
		}
		if ok {
			allowed = true
			break
		}
	}
	e.metrics.RecordDecision("wildcard_any", allowed, time.Since(start).Seconds())
	return allowed
}

// CanPerformAction maps action to its permission and checks it
func (e *Engine) CanPerformAction(p *auth.Principal, action, companyID string) bool {
	start := time.Now()
	allowed, err := e.resolveAction(p, action, companyID, nil)
	e.finish("action", action, p, allowed, err, start)
	return allowed
}

// CanPerformResourceAction requires both the flat action check and the
// role's scoping rule over res to pass.
func (e *Engine) CanPerformResourceAction(p *auth.Principal, action string, res Resource) bool {
	start := time.Now()
	allowed, err := e.resolveResourceAction(p, action, res)
	e.finish("resource_action", action, p, allowed, err, start)
	return allowed
}

// ResourcePermissions projects the CRUD and manage decisions for one
// resource, plus every action the principal holds in the resource's namespace
func (e *Engine) ResourcePermissions(p *auth.Principal, rt ResourceType, id string, ctx ResourceContext) ResourcePermissions {
	rp := ResourcePermissions{
		ResourceType:     rt,
		ResourceID:       id,
		AvailableActions: []ActionName{},
	}
	if p == nil {
		e.reportError("resource_permissions", string(rt), p, ErrNilPrincipal)
		return rp
	}
	if !e.isNamespace(rt) {
		e.reportError("resource_permissions", string(rt), p,
			&InvalidPatternError{Pattern: string(rt), Reason: "unknown resource namespace"})
		return rp
	}

	res := Resource{Type: rt, ID: id, Context: ctx}
	check := func(a Action) bool {
		return e.CanPerformResourceAction(p, string(CRUDAction(a, rt)), res)
	}
	rp.CanCreate = check(ActionCreate)
	rp.CanRead = check(ActionRead)
	rp.CanUpdate = check(ActionUpdate)
	rp.CanDelete = check(ActionDelete)
	rp.CanManage = check(ActionManage)

	for _, name := range e.actions.ActionsFor(rt) {
		perm := e.actions.actions[name]
		if ok, err := e.resolvePermission(p, perm.String(), ctx.CompanyID, nil); err == nil && ok {
			rp.AvailableActions = append(rp.AvailableActions, name)
		}
	}
	return rp
}

// EffectivePermissions returns the permission strings a decision would use
// and where they came from
func (e *Engine) EffectivePermissions(p *auth.Principal) ([]string, PermissionSource, error) {
	if p == nil {
		return nil, "", ErrNilPrincipal
	}
	if len(p.ExplicitPermissions) > 0 {
		return p.ExplicitPermissions, SourceExplicit, nil
	}
	perms, err := e.catalog.basePermissionStrings(p.Role)
	if err != nil {
		return nil, SourceRole, err
	}
	return perms, SourceRole, nil
}

func (e *Engine) isNamespace(rt ResourceType) bool {
	return e.catalog.IsNamespace(rt) || e.actions.hasNamespace(rt)
}

func (e *Engine) finish(kind, subject string, p *auth.Principal, allowed bool, err error, start time.Time) {
	if err != nil {
		e.reportError(kind, subject, p, err)
	}
	e.metrics.RecordDecision(kind, allowed, time.Since(start).Seconds())
}

func (e *Engine) reportError(kind, subject string, p *auth.Principal, err error) {
	errKind := errorKind(err)
	e.metrics.RecordResolutionError(errKind)

	fields := map[string]interface{}{
		"check":      kind,
		"subject":    subject,
		"error_kind": errKind,
	}
	if p != nil {
		fields["principal_id"] = p.ID
		fields["role"] = string(p.Role)
	}
	e.logger.WithFields(fields).WithError(err).Warn("authorization check failed closed")
}

// resolvePermission is the single resolution path shared by checks and
// traces. With a nil tracer it reads and populates the cache; with a tracer
// it only peeks and records each step.
func (e *Engine) resolvePermission(p *auth.Principal, permission, companyID string, tr *tracer) (bool, error) {
	if p == nil {
		tr.step("principal", false, "no principal")
		return false, ErrNilPrincipal
	}
	if _, err := ParsePermission(permission); err != nil {
		tr.step("parse_permission", false, "%s", err.Error())
		return false, err
	}

	key := permcache.Key(p.ID, permission, "", companyID)
	if tr == nil {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	} else {
		tr.peek(e.cache, key)
	}

	allowed, err := e.evaluatePermission(p, permission, companyID, tr)
	if err != nil {
		return false, err
	}
	if tr == nil {
		e.cache.Put(key, allowed)
	}
	return allowed, nil
}

func (e *Engine) evaluatePermission(p *auth.Principal, permission, companyID string, tr *tracer) (bool, error) {
	if e.catalog.IsSuperAdmin(p.Role) {
		tr.step("super_admin", true, "role %s is granted unconditionally", p.Role)
		return true, nil
	}
	tr.step("super_admin", false, "role %s is not the super administrator", p.Role)

	if companyID != "" && len(p.CompanyAdminFor) > 0 {
		if !p.IsAdminFor(companyID) {
			tr.step("company_scope", false, "company %s is outside the administered companies %v", companyID, p.CompanyAdminFor)
			return false, nil
		}
		tr.step("company_scope", true, "company %s is administered", companyID)
	} else {
		tr.step("company_scope", true, "no company scope applies")
	}

	perms, source, err := e.EffectivePermissions(p)
	if err != nil {
		tr.step("effective_permissions", false, "%s", err.Error())
		return false, err
	}
	tr.step("effective_permissions", true, "%d %s permissions", len(perms), source)

	var granted bool
	if source == SourceExplicit {
		granted = containsID(perms, permission)
	} else {
		granted, err = e.catalog.roleGrants(p.Role, permission)
		if err != nil {
			return false, err
		}
	}
	tr.step("membership", granted, "%s in effective set: %t", permission, granted)
	return granted, nil
}

func (e *Engine) resolvePattern(p *auth.Principal, pattern string, comb Combinator, tr *tracer) (bool, error) {
	if p == nil {
		return false, ErrNilPrincipal
	}
	pat, err := ParsePattern(pattern, e.isNamespace)
	if err != nil {
		return false, err
	}
	if pat.Wildcard {
		return e.resolveNamespace(p, pat.Resource, tr)
	}
	if comb != And && comb != Or {
		return false, &InvalidPatternError{Pattern: pattern, Reason: "unknown combinator " + string(comb)}
	}

	for _, perm := range pat.Permissions() {
		ok, err := e.resolvePermission(p, perm.String(), "", tr)
		if err != nil {
			return false, err
		}
		if comb == Or && ok {
			return true, nil
		}
		if comb == And && !ok {
			return false, nil
		}
	}
	return comb == And, nil
}

// resolveNamespace reports whether any effective permission lies in rt
func (e *Engine) resolveNamespace(p *auth.Principal, rt ResourceType, tr *tracer) (bool, error) {
	key := permcache.Key(p.ID, string(rt)+permissionSeparator+actionWildcard, "", "")
	if tr == nil {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	} else {
		tr.peek(e.cache, key)
	}

	allowed := false
	if e.catalog.IsSuperAdmin(p.Role) {
		tr.step("super_admin", true, "role %s is granted unconditionally", p.Role)
		allowed = true
	} else {
		perms, source, err := e.EffectivePermissions(p)
		if err != nil {
			return false, err
		}
		prefix := string(rt) + permissionSeparator
		for _, perm := range perms {
			if strings.HasPrefix(perm, prefix) {
				allowed = true
				break
			}
		}
		tr.step("namespace", allowed, "%s permissions include %s*: %t", source, prefix, allowed)
	}

	if tr == nil {
		e.cache.Put(key, allowed)
	}
	return allowed, nil
}

func (e *Engine) resolveAction(p *auth.Principal, action, companyID string, tr *tracer) (bool, error) {
	if p == nil {
		tr.step("principal", false, "no principal")
		return false, ErrNilPrincipal
	}
	perm, err := e.actions.Resolve(action)
	if err != nil {
		tr.step("resolve_action", false, "%s", err.Error())
		return false, err
	}
	tr.step("resolve_action", true, "%s maps to %s", action, perm)
	return e.resolvePermission(p, perm.String(), companyID, tr)
}

func (e *Engine) resolveResourceAction(p *auth.Principal, action string, res Resource) (bool, error) {
	if p == nil {
		return false, ErrNilPrincipal
	}
	perm, err := e.actions.Resolve(action)
	if err != nil {
		return false, err
	}

	key := permcache.Key(p.ID, perm.String(), res.fingerprint(), res.Context.CompanyID)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	flat, err := e.resolvePermission(p, perm.String(), res.Context.CompanyID, nil)
	if err != nil {
		return false, err
	}

	allowed := false
	if flat {
		var detail string
		allowed, detail, err = e.scopeAllows(p, res)
		if err != nil {
			return false, err
		}
		if !allowed {
			e.logger.WithFields(map[string]interface{}{
				"principal_id": p.ID,
				"action":       action,
				"resource":     string(res.Type),
			}).Debugf("resource scope denied: %s", detail)
		}
	}

	e.cache.Put(key, allowed)
	return allowed, nil
}
