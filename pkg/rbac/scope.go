package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/permcache"
)

// ScopeKind names the rule that restricts a role to particular resources
// once the flat permission check has passed
type ScopeKind string

const (
	// ScopeGlobal applies no restriction
	ScopeGlobal ScopeKind = "global"
	// ScopeCompanyAdmin requires the resource company in CompanyAdminFor
	ScopeCompanyAdmin ScopeKind = "company_admin"
	// ScopeAssignedCompany requires the resource company in AssignedCompanies
	ScopeAssignedCompany ScopeKind = "assigned_company"
	// ScopeAssignedEstate requires the resource estate in AssignedEstates
	ScopeAssignedEstate ScopeKind = "assigned_estate"
	// ScopeDivisionOrAssignee requires the resource division in
	// AssignedDivisions, or the principal listed in the resource's assignees
	ScopeDivisionOrAssignee ScopeKind = "division_or_assignee"
	// ScopeOwnerInLocation requires the principal to have created or own the
	// resource, and the resource to sit in an assigned division or estate
	ScopeOwnerInLocation ScopeKind = "owner_in_location"
)

func (k ScopeKind) valid() bool {
	switch k {
	case ScopeGlobal, ScopeCompanyAdmin, ScopeAssignedCompany, ScopeAssignedEstate,
		ScopeDivisionOrAssignee, ScopeOwnerInLocation:
		return true
	}
	return false
}

// scopeAllows applies the role's scoping rule to res. The returned detail
// explains the outcome for traces and logs.
func (e *Engine) scopeAllows(p *auth.Principal, res Resource) (bool, string, error) {
	kind, err := e.catalog.ScopeOf(p.Role)
	if err != nil {
		return false, err.Error(), err
	}

	ctx := res.Context
	switch kind {
	case ScopeGlobal:
		return true, "global scope", nil

	case ScopeCompanyAdmin:
		ok := p.IsAdminFor(ctx.CompanyID)
		return ok, fmt.Sprintf("company %q administered: %t", ctx.CompanyID, ok), nil

	case ScopeAssignedCompany:
		ok := p.InCompany(ctx.CompanyID)
		return ok, fmt.Sprintf("company %q assigned: %t", ctx.CompanyID, ok), nil

	case ScopeAssignedEstate:
		ok := p.InEstate(ctx.EstateID)
		return ok, fmt.Sprintf("estate %q assigned: %t", ctx.EstateID, ok), nil

	case ScopeDivisionOrAssignee:
		inDivision := p.InDivision(ctx.DivisionID)
		assigned := containsID(ctx.AssignedTo, p.ID)
		return inDivision || assigned,
			fmt.Sprintf("division %q assigned: %t, principal in assignees: %t", ctx.DivisionID, inDivision, assigned), nil

	case ScopeOwnerInLocation:
		owns := p.ID != "" && (ctx.CreatedBy == p.ID || ctx.OwnerID == p.ID)
		located := p.InDivision(ctx.DivisionID) || p.InEstate(ctx.EstateID)
		return owns && located,
			fmt.Sprintf("owns resource: %t, in assigned division or estate: %t", owns, located), nil
	}

	return false, fmt.Sprintf("no scoping rule %q", kind), fmt.Errorf("role %q has unsupported scope %q", p.Role, kind)
}

func containsID(set []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}

// fingerprint identifies the resource for cache keys. It always contains the
// scope marker so a resource decision never shares a key with a flat one.
func (r Resource) fingerprint() string {
	fields := map[string]string{
		"scope":       "resource",
		"type":        string(r.Type),
		"id":          r.ID,
		"company":     r.Context.CompanyID,
		"estate":      r.Context.EstateID,
		"division":    r.Context.DivisionID,
		"block":       r.Context.BlockID,
		"owner":       r.Context.OwnerID,
		"created_by":  r.Context.CreatedBy,
		"status":      r.Context.Status,
		"assigned_to": joinSorted(r.Context.AssignedTo),
	}
	for k, v := range r.Context.Metadata {
		fields["meta."+k] = v
	}
	return permcache.Fingerprint(fields)
}

func joinSorted(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
