package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/agrinova/authd/pkg/auth"
)

// RoleDefinition is the static description of one role
type RoleDefinition struct {
	Role         auth.Role `yaml:"role" json:"role"`
	Label        string    `yaml:"label" json:"label"`
	Description  string    `yaml:"description" json:"description"`
	DefaultPath  string    `yaml:"default_path" json:"default_path"`
	Level        int       `yaml:"level" json:"level"`
	WebAccess    bool      `yaml:"web_access" json:"web_access"`
	MobileAccess bool      `yaml:"mobile_access" json:"mobile_access"`
	Scope        ScopeKind `yaml:"scope" json:"scope"`
	Permissions  []string  `yaml:"permissions" json:"permissions"`
}

// DisplayInfo is the presentation metadata of a role
type DisplayInfo struct {
	Label        string `json:"label"`
	Description  string `json:"description"`
	DefaultPath  string `json:"default_path"`
	Level        int    `json:"level"`
	WebAccess    bool   `json:"web_access"`
	MobileAccess bool   `json:"mobile_access"`
}

type roleEntry struct {
	info        DisplayInfo
	scope       ScopeKind
	permissions []Permission
	strings     []string
	set         map[string]struct{}
}

// Catalog is the immutable role table. Every slice it returns is computed
// once in NewCatalog and shared; callers must not modify them.
type Catalog struct {
	roles      map[auth.Role]*roleEntry
	ordered    []auth.Role
	manageable map[auth.Role][]auth.Role
	namespaces map[ResourceType]struct{}
	nsList     []ResourceType
	superAdmin auth.Role
}

// NewCatalog validates defs and builds a catalog. Permissions must parse;
// roles and levels must be unique.
func NewCatalog(defs []RoleDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("at least one role definition is required")
	}

	c := &Catalog{
		roles:      make(map[auth.Role]*roleEntry, len(defs)),
		manageable: make(map[auth.Role][]auth.Role, len(defs)),
		namespaces: make(map[ResourceType]struct{}),
		superAdmin: auth.RoleSuperAdmin,
	}
	for _, rt := range ResourceTypes {
		c.namespaces[rt] = struct{}{}
	}

	levels := make(map[int]auth.Role, len(defs))
	for _, def := range defs {
		if def.Role == "" {
			return nil, fmt.Errorf("role definition without a role name")
		}
		if _, dup := c.roles[def.Role]; dup {
			return nil, fmt.Errorf("duplicate role %q", def.Role)
		}
		if def.Level <= 0 {
			return nil, fmt.Errorf("role %q: level must be positive", def.Role)
		}
		if other, dup := levels[def.Level]; dup {
			return nil, fmt.Errorf("role %q: level %d already used by %q", def.Role, def.Level, other)
		}
		levels[def.Level] = def.Role
		if !def.Scope.valid() {
			return nil, fmt.Errorf("role %q: unknown scope %q", def.Role, def.Scope)
		}

		entry := &roleEntry{
			info: DisplayInfo{
				Label:        def.Label,
				Description:  def.Description,
				DefaultPath:  def.DefaultPath,
				Level:        def.Level,
				WebAccess:    def.WebAccess,
				MobileAccess: def.MobileAccess,
			},
			scope: def.Scope,
			set:   make(map[string]struct{}, len(def.Permissions)),
		}
		for _, raw := range def.Permissions {
			perm, err := ParsePermission(raw)
			if err != nil {
				return nil, fmt.Errorf("role %q: %w", def.Role, err)
			}
			if _, dup := entry.set[raw]; dup {
				continue
			}
			entry.set[raw] = struct{}{}
			entry.permissions = append(entry.permissions, perm)
			entry.strings = append(entry.strings, raw)
			c.namespaces[perm.Resource] = struct{}{}
		}
		sort.Strings(entry.strings)
		c.roles[def.Role] = entry
		c.ordered = append(c.ordered, def.Role)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.roles[c.ordered[i]].info.Level < c.roles[c.ordered[j]].info.Level
	})

	// a role manages every role strictly below it
	for _, role := range c.ordered {
		level := c.roles[role].info.Level
		below := []auth.Role{}
		for _, other := range c.ordered {
			if c.roles[other].info.Level > level {
				below = append(below, other)
			}
		}
		c.manageable[role] = below
	}

	for ns := range c.namespaces {
		c.nsList = append(c.nsList, ns)
	}
	sort.Slice(c.nsList, func(i, j int) bool { return c.nsList[i] < c.nsList[j] })

	return c, nil
}

// MustNewCatalog is NewCatalog for static definitions; it panics on error
func MustNewCatalog(defs []RoleDefinition) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadRoleDefinitions reads role definitions from a YAML file
func LoadRoleDefinitions(path string) ([]RoleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role definitions: %w", err)
	}

	var doc struct {
		Roles []RoleDefinition `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse role definitions: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("no roles defined in %s", path)
	}
	return doc.Roles, nil
}

// IsKnownRole reports whether value names a registered role
func (c *Catalog) IsKnownRole(value string) bool {
	_, ok := c.roles[auth.Role(value)]
	return ok
}

// IsSuperAdmin reports whether role is the top-level administrative role
func (c *Catalog) IsSuperAdmin(role auth.Role) bool {
	return role == c.superAdmin
}

// BasePermissions returns the role's default permission set
func (c *Catalog) BasePermissions(role auth.Role) ([]Permission, error) {
	entry, ok := c.roles[role]
	if !ok {
		return nil, &UnknownRoleError{Role: role}
	}
	return entry.permissions, nil
}

// basePermissionStrings returns the sorted canonical strings of the role's
// default permissions
func (c *Catalog) basePermissionStrings(role auth.Role) ([]string, error) {
	entry, ok := c.roles[role]
	if !ok {
		return nil, &UnknownRoleError{Role: role}
	}
	return entry.strings, nil
}

// roleGrants reports whether the role's base set contains perm
func (c *Catalog) roleGrants(role auth.Role, perm string) (bool, error) {
	entry, ok := c.roles[role]
	if !ok {
		return false, &UnknownRoleError{Role: role}
	}
	_, granted := entry.set[perm]
	return granted, nil
}

// DisplayInfo returns the role's presentation metadata
func (c *Catalog) DisplayInfo(role auth.Role) (DisplayInfo, error) {
	entry, ok := c.roles[role]
	if !ok {
		return DisplayInfo{}, &UnknownRoleError{Role: role}
	}
	return entry.info, nil
}

// ScopeOf returns the resource scoping rule of role
func (c *Catalog) ScopeOf(role auth.Role) (ScopeKind, error) {
	entry, ok := c.roles[role]
	if !ok {
		return "", &UnknownRoleError{Role: role}
	}
	return entry.scope, nil
}

// Level returns the role's hierarchy level, 1 being the highest authority
func (c *Catalog) Level(role auth.Role) (int, error) {
	entry, ok := c.roles[role]
	if !ok {
		return 0, &UnknownRoleError{Role: role}
	}
	return entry.info.Level, nil
}

// ManageableRoles returns the roles strictly below role in the hierarchy
func (c *Catalog) ManageableRoles(role auth.Role) ([]auth.Role, error) {
	roles, ok := c.manageable[role]
	if !ok {
		return nil, &UnknownRoleError{Role: role}
	}
	return roles, nil
}

// CanManage reports whether requester may manage users holding target
func (c *Catalog) CanManage(requester, target auth.Role) bool {
	rl, err := c.Level(requester)
	if err != nil {
		return false
	}
	tl, err := c.Level(target)
	if err != nil {
		return false
	}
	return rl < tl
}

// Roles returns all roles ordered by level
func (c *Catalog) Roles() []auth.Role {
	return c.ordered
}

// IsNamespace reports whether rt is a known permission namespace
func (c *Catalog) IsNamespace(rt ResourceType) bool {
	_, ok := c.namespaces[rt]
	return ok
}

// Namespaces returns the sorted set of known permission namespaces
func (c *Catalog) Namespaces() []ResourceType {
	return c.nsList
}

func crud(resource ResourceType) []string {
	return []string{
		NewPermission(resource, ActionCreate).String(),
		NewPermission(resource, ActionRead).String(),
		NewPermission(resource, ActionUpdate).String(),
		NewPermission(resource, ActionDelete).String(),
	}
}

func join(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultRoleDefinitions returns the built-in estate hierarchy
func DefaultRoleDefinitions() []RoleDefinition {
	self := []string{"user:read", "user:update_own"}

	var everything []string
	for _, rt := range ResourceTypes {
		everything = append(everything, crud(rt)...)
		everything = append(everything, NewPermission(rt, ActionManage).String())
	}
	everything = append(everything,
		"user:update_own", "user:reset_password", "user:toggle_status",
		"harvest:approve", "harvest:reject",
		"grading:approve", "grading:reject",
		"report:export",
	)

	return []RoleDefinition{
		{
			Role:        auth.RoleSuperAdmin,
			Scope:       ScopeGlobal,
			Label:       "Super Administrator",
			Description: "System administrator with full access to all companies and functions",
			DefaultPath: "/dashboard/super-admin",
			Level:       1,
			WebAccess:   true,
			Permissions: everything,
		},
		{
			Role:         auth.RoleAreaManager,
			Scope:        ScopeAssignedCompany,
			Label:        "Area Manager",
			Description:  "Oversees multiple companies with cross-company reporting",
			DefaultPath:  "/dashboard/area-manager",
			Level:        2,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"company:read", "estate:read", "division:read",
				"harvest:read", "report:read", "report:export",
			}),
		},
		{
			Role:        auth.RoleCompanyAdmin,
			Scope:       ScopeCompanyAdmin,
			Label:       "Company Administrator",
			Description: "Company administrator with user management and company-level access",
			DefaultPath: "/dashboard/company-admin",
			Level:       3,
			WebAccess:   true,
			Permissions: join(
				crud(ResourceUser),
				[]string{"user:reset_password", "user:toggle_status", "user:manage"},
				crud(ResourceEstate), crud(ResourceDivision), crud(ResourceBlock), crud(ResourceEmployee),
				[]string{"harvest:read", "report:read", "report:export", "company:read"},
			),
		},
		{
			Role:         auth.RoleManager,
			Scope:        ScopeAssignedEstate,
			Label:        "Estate Manager",
			Description:  "Estate manager with monitoring and reporting across assigned estates",
			DefaultPath:  "/dashboard/manager",
			Level:        4,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"estate:read", "division:read", "harvest:read",
				"gate_check:read", "report:read",
			}),
		},
		{
			Role:         auth.RoleAsisten,
			Scope:        ScopeDivisionOrAssignee,
			Label:        "Assistant Manager",
			Description:  "Approves or rejects harvest records for assigned divisions",
			DefaultPath:  "/dashboard/asisten",
			Level:        5,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"division:read", "division:update",
				"harvest:read", "harvest:approve", "harvest:reject",
			}),
		},
		{
			Role:         auth.RoleMandor,
			Scope:        ScopeOwnerInLocation,
			Label:        "Field Supervisor",
			Description:  "Records harvest data for assigned divisions",
			DefaultPath:  "/dashboard/mandor",
			Level:        6,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"division:read", "division:update",
				"harvest:create", "harvest:read", "harvest:update",
			}),
		},
		{
			Role:         auth.RoleSatpam,
			Scope:        ScopeAssignedEstate,
			Label:        "Security Officer",
			Description:  "Performs vehicle gate checks for assigned estates",
			DefaultPath:  "/dashboard/satpam",
			Level:        7,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"gate_check:create", "gate_check:read", "gate_check:update",
			}),
		},
		{
			Role:         auth.RoleTimbangan,
			Scope:        ScopeAssignedEstate,
			Label:        "Weighing Officer",
			Description:  "Operates the mill weighbridge",
			DefaultPath:  "/dashboard/timbangan",
			Level:        8,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"weighing:create", "weighing:read", "weighing:update",
				"report:read",
			}),
		},
		{
			Role:         auth.RoleGrading,
			Scope:        ScopeAssignedEstate,
			Label:        "Grading Officer",
			Description:  "Performs fruit bunch quality grading at the mill",
			DefaultPath:  "/dashboard/grading",
			Level:        9,
			WebAccess:    true,
			MobileAccess: true,
			Permissions: join(self, []string{
				"grading:create", "grading:read", "grading:update",
				"grading:approve", "grading:reject",
				"weighing:read", "report:read",
			}),
		},
	}
}

// DefaultCatalog builds the catalog from DefaultRoleDefinitions
func DefaultCatalog() *Catalog {
	return MustNewCatalog(DefaultRoleDefinitions())
}
