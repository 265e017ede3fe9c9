package rbac

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/authd/pkg/auth"
)

func stepNames(tr Trace) []string {
	names := make([]string, len(tr.Steps))
	for i, s := range tr.Steps {
		names[i] = s.Name
	}
	return names
}

func TestDebugPermissionCheck(t *testing.T) {
	e, _ := newTestEngine(t)
	p := mandor()

	tr := e.DebugPermissionCheck(p, "harvest:create", "")
	assert.True(t, tr.Decision)
	assert.False(t, tr.FromCache)
	assert.Empty(t, tr.Error)
	assert.Equal(t, []string{"cache", "super_admin", "company_scope", "effective_permissions", "membership"}, stepNames(tr))
	assert.Equal(t, 0, e.cache.Len(), "traces never populate the cache")

	require.True(t, e.HasPermission(p, "harvest:create", ""))
	stats := e.cache.Stats()

	tr = e.DebugPermissionCheck(p, "harvest:create", "")
	assert.True(t, tr.FromCache)
	assert.True(t, tr.Decision)
	assert.True(t, tr.Steps[0].Outcome, "cache step reports the hit")
	assert.Equal(t, stats, e.cache.Stats(), "traces leave cache counters untouched")
}

func TestDebugPermissionCheck_ReportsCachedValue(t *testing.T) {
	e, _ := newTestEngine(t)
	p := mandor()
	require.True(t, e.HasPermission(p, "harvest:create", ""))

	// fresh evaluation would deny, the live check still serves the cache
	p.ExplicitPermissions = []string{"report:read"}
	tr := e.DebugPermissionCheck(p, "harvest:create", "")
	assert.True(t, tr.FromCache)
	assert.True(t, tr.Decision)
	last := tr.Steps[len(tr.Steps)-1]
	assert.Equal(t, "membership", last.Name)
	assert.False(t, last.Outcome, "replayed steps show the fresh evaluation")
}

func TestDebugPermissionCheck_Errors(t *testing.T) {
	e, metrics := newTestEngine(t)

	tr := e.DebugPermissionCheck(nil, "harvest:read", "")
	assert.False(t, tr.Decision)
	assert.Equal(t, ErrNilPrincipal.Error(), tr.Error)
	assert.Equal(t, []string{"principal"}, stepNames(tr))

	tr = e.DebugPermissionCheck(mandor(), "not a permission", "")
	assert.False(t, tr.Decision)
	assert.Equal(t, []string{"parse_permission"}, stepNames(tr))

	tr = e.DebugPermissionCheck(&auth.Principal{ID: "x", Role: "NOBODY"}, "harvest:read", "")
	assert.False(t, tr.Decision)
	assert.Contains(t, tr.Error, "unknown role")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResolutionErrorsTotal.WithLabelValues("unknown_role")))
}

func TestDebugPermissionCheck_CompanyScope(t *testing.T) {
	e, _ := newTestEngine(t)
	admin := &auth.Principal{ID: "ca", Role: auth.RoleCompanyAdmin, CompanyAdminFor: []string{"c-1"}}

	tr := e.DebugPermissionCheck(admin, "user:create", "c-2")
	assert.False(t, tr.Decision)
	assert.Equal(t, []string{"cache", "super_admin", "company_scope"}, stepNames(tr))
	assert.Contains(t, tr.Steps[2].Detail, "c-2")
}

func TestDebugActionCheck(t *testing.T) {
	e, metrics := newTestEngine(t)

	tr := e.DebugActionCheck(mandor(), "approve_harvest", "")
	assert.False(t, tr.Decision)
	assert.Equal(t, "approve_harvest", tr.Subject)
	require.NotEmpty(t, tr.Steps)
	assert.Equal(t, "resolve_action", tr.Steps[0].Name)
	assert.Contains(t, tr.Steps[0].Detail, "harvest:approve")

	tr = e.DebugActionCheck(mandor(), "fly", "")
	assert.False(t, tr.Decision)
	assert.Equal(t, `unknown action "fly"`, tr.Error)
	assert.Equal(t, []string{"resolve_action"}, stepNames(tr))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResolutionErrorsTotal.WithLabelValues("unknown_action")))

	super := &auth.Principal{ID: "root", Role: auth.RoleSuperAdmin}
	tr = e.DebugActionCheck(super, "export_reports", "")
	assert.True(t, tr.Decision)
}

func TestAnalyzeUserPermissions(t *testing.T) {
	e, _ := newTestEngine(t)

	t.Run("role defaults", func(t *testing.T) {
		a := e.AnalyzeUserPermissions(mandor())
		assert.Equal(t, "mandor-1", a.PrincipalID)
		assert.Equal(t, auth.RoleMandor, a.Role)
		assert.Equal(t, "Field Supervisor", a.RoleLabel)
		assert.Equal(t, 6, a.Level)
		assert.True(t, a.KnownRole)
		assert.False(t, a.SuperAdmin)
		assert.Equal(t, SourceRole, a.Source)
		assert.Contains(t, a.EffectivePermissions, "harvest:create")
		assert.IsIncreasing(t, a.EffectivePermissions)
		assert.Equal(t, []auth.Role{auth.RoleSatpam, auth.RoleTimbangan, auth.RoleGrading}, a.ManageableRoles)
		assert.Equal(t, []string{"div-1"}, a.Scope.AssignedDivisions)
		assert.Equal(t, []string{}, a.Scope.CompanyAdminFor)
		assert.Empty(t, a.Warnings)
	})

	t.Run("explicit override is flagged", func(t *testing.T) {
		p := mandor()
		p.ExplicitPermissions = []string{"report:read", "Bad Permission"}
		a := e.AnalyzeUserPermissions(p)
		assert.Equal(t, SourceExplicit, a.Source)
		assert.Contains(t, a.Warnings, "explicit permissions replace all role defaults for MANDOR")
		assert.Len(t, a.Warnings, 2)
	})

	t.Run("unknown role", func(t *testing.T) {
		a := e.AnalyzeUserPermissions(&auth.Principal{ID: "x", Role: "NOBODY"})
		assert.False(t, a.KnownRole)
		assert.Empty(t, a.EffectivePermissions)
		assert.NotNil(t, a.EffectivePermissions)
		assert.NotEmpty(t, a.Warnings)
	})

	t.Run("super admin", func(t *testing.T) {
		a := e.AnalyzeUserPermissions(&auth.Principal{ID: "root", Role: auth.RoleSuperAdmin})
		assert.True(t, a.SuperAdmin)
		assert.Len(t, a.ManageableRoles, 8)
	})

	t.Run("nil principal", func(t *testing.T) {
		a := e.AnalyzeUserPermissions(nil)
		assert.Equal(t, []string{ErrNilPrincipal.Error()}, a.Warnings)
	})
}
