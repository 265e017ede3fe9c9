package rbac

import (
	"fmt"
	"sort"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/permcache"
)

// TraceStep is one named step of a replayed resolution
type TraceStep struct {
	Name    string `json:"name"`
	Outcome bool   `json:"outcome"`
	Detail  string `json:"detail"`
}

// Trace is a read-only replay of a decision. It is for audit and tooling
// and must never be used to grant access.
type Trace struct {
	Subject   string      `json:"subject"`
	CompanyID string      `json:"company_id,omitempty"`
	Decision  bool        `json:"decision"`
	FromCache bool        `json:"from_cache"`
	Steps     []TraceStep `json:"steps"`
	Error     string      `json:"error,omitempty"`
}

type tracer struct {
	steps     []TraceStep
	cacheHit  bool
	cachedVal bool
}

func (t *tracer) step(name string, outcome bool, format string, args ...interface{}) {
	if t == nil {
		return
	}
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	t.steps = append(t.steps, TraceStep{Name: name, Outcome: outcome, Detail: detail})
}

// peek records the cache state without reading through Get, so traces leave
// recency and counters untouched
func (t *tracer) peek(c *permcache.Cache, key string) {
	v, ok := c.Peek(key)
	if !ok {
		t.step("cache", false, "no fresh cached decision")
		return
	}
	// the outermost cached lookup is what the live check would return
	if !t.cacheHit {
		t.cacheHit = true
		t.cachedVal = v
	}
	t.step("cache", true, "cached decision %t; replaying resolution below", v)
}

func (t *tracer) trace(subject, companyID string, allowed bool, err error) Trace {
	tr := Trace{
		Subject:   subject,
		CompanyID: companyID,
		Decision:  allowed,
		Steps:     t.steps,
	}
	if t.cacheHit && err == nil {
		tr.FromCache = true
		tr.Decision = t.cachedVal
	}
	if err != nil {
		tr.Decision = false
		tr.Error = err.Error()
	}
	if tr.Steps == nil {
		tr.Steps = []TraceStep{}
	}
	return tr
}

// DebugPermissionCheck replays HasPermission step by step. It never writes
// the cache.
func (e *Engine) DebugPermissionCheck(p *auth.Principal, permission, companyID string) Trace {
	tr := &tracer{}
	allowed, err := e.resolvePermission(p, permission, companyID, tr)
	if err != nil {
		e.metrics.RecordResolutionError(errorKind(err))
	}
	return tr.trace(permission, companyID, allowed, err)
}

// DebugActionCheck replays CanPerformAction step by step, including the
// action-to-permission mapping. It never writes the cache.
func (e *Engine) DebugActionCheck(p *auth.Principal, action, companyID string) Trace {
	tr := &tracer{}
	allowed, err := e.resolveAction(p, action, companyID, tr)
	if err != nil {
		e.metrics.RecordResolutionError(errorKind(err))
	}
	return tr.trace(action, companyID, allowed, err)
}

// AnalyzeUserPermissions returns a snapshot of how decisions for p are made
func (e *Engine) AnalyzeUserPermissions(p *auth.Principal) PermissionAnalysis {
	if p == nil {
		return PermissionAnalysis{
			EffectivePermissions: []string{},
			Warnings:             []string{ErrNilPrincipal.Error()},
		}
	}

	a := PermissionAnalysis{
		PrincipalID: p.ID,
		Role:        p.Role,
		KnownRole:   e.catalog.IsKnownRole(string(p.Role)),
		SuperAdmin:  e.catalog.IsSuperAdmin(p.Role),
		Scope: AssignmentScope{
			CompanyAdminFor:   nonNil(p.CompanyAdminFor),
			AssignedCompanies: nonNil(p.AssignedCompanies),
			AssignedEstates:   nonNil(p.AssignedEstates),
			AssignedDivisions: nonNil(p.AssignedDivisions),
		},
	}

	if info, err := e.catalog.DisplayInfo(p.Role); err == nil {
		a.RoleLabel = info.Label
		a.Level = info.Level
	} else {
		a.Warnings = append(a.Warnings, err.Error())
	}
	if roles, err := e.catalog.ManageableRoles(p.Role); err == nil {
		a.ManageableRoles = roles
	}

	perms, source, err := e.EffectivePermissions(p)
	a.Source = source
	if err != nil {
		a.Warnings = append(a.Warnings, err.Error())
	}
	sorted := append([]string{}, perms...)
	sort.Strings(sorted)
	a.EffectivePermissions = sorted

	if source == SourceExplicit && a.KnownRole {
		a.Warnings = append(a.Warnings,
			"explicit permissions replace all role defaults for "+string(p.Role))
	}
	for _, perm := range p.ExplicitPermissions {
		if _, err := ParsePermission(perm); err != nil {
			a.Warnings = append(a.Warnings, err.Error())
		}
	}
	return a
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
