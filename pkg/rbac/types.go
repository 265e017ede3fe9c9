package rbac

import (
	"strings"

	"github.com/agrinova/authd/pkg/auth"
)

// ResourceType is a permission namespace
type ResourceType string

const (
	ResourceUser      ResourceType = "user"
	ResourceCompany   ResourceType = "company"
	ResourceEstate    ResourceType = "estate"
	ResourceDivision  ResourceType = "division"
	ResourceBlock     ResourceType = "block"
	ResourceEmployee  ResourceType = "employee"
	ResourceHarvest   ResourceType = "harvest"
	ResourceGateCheck ResourceType = "gate_check"
	ResourceWeighing  ResourceType = "weighing"
	ResourceGrading   ResourceType = "grading"
	ResourceReport    ResourceType = "report"
)

// ResourceTypes lists every built-in namespace
var ResourceTypes = []ResourceType{
	ResourceUser,
	ResourceCompany,
	ResourceEstate,
	ResourceDivision,
	ResourceBlock,
	ResourceEmployee,
	ResourceHarvest,
	ResourceGateCheck,
	ResourceWeighing,
	ResourceGrading,
	ResourceReport,
}

// Action is the verb half of a permission
type Action string

const (
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionManage        Action = "manage"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionExport        Action = "export"
	ActionUpdateOwn     Action = "update_own"
	ActionResetPassword Action = "reset_password"
	ActionToggleStatus  Action = "toggle_status"
)

const (
	actionWildcard      = "*"
	permissionSeparator = ":"
)

// crudActions are the actions projected by ResourcePermissions
var crudActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage}

// Permission is a namespaced resource:action pair
type Permission struct {
	Resource ResourceType `json:"resource"`
	Action   Action       `json:"action"`
}

// String returns the canonical resource:action form
func (p Permission) String() string {
	return string(p.Resource) + permissionSeparator + string(p.Action)
}

// NewPermission builds a permission from its halves
func NewPermission(resource ResourceType, action Action) Permission {
	return Permission{Resource: resource, Action: action}
}

// ParsePermission parses resource:action. The string must be lower-case and
// contain exactly one colon with non-empty halves.
func ParsePermission(s string) (Permission, error) {
	if s == "" {
		return Permission{}, &InvalidPermissionError{Value: s, Reason: "empty"}
	}
	if s != strings.ToLower(s) {
		return Permission{}, &InvalidPermissionError{Value: s, Reason: "must be lower-case"}
	}
	if strings.Count(s, permissionSeparator) != 1 {
		return Permission{}, &InvalidPermissionError{Value: s, Reason: "must contain exactly one colon"}
	}
	resource, action, _ := strings.Cut(s, permissionSeparator)
	if resource == "" || action == "" {
		return Permission{}, &InvalidPermissionError{Value: s, Reason: "resource and action must be non-empty"}
	}
	if strings.ContainsAny(s, " ,*|") {
		return Permission{}, &InvalidPermissionError{Value: s, Reason: "contains reserved characters"}
	}
	return Permission{Resource: ResourceType(resource), Action: Action(action)}, nil
}

// Combinator joins the checks of a multi-action pattern
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// ParseCombinator accepts "and"/"all" and "or"/"any", case-insensitively.
// Anything else is an error.
func ParseCombinator(s string) (Combinator, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND", "ALL":
		return And, true
	case "OR", "ANY":
		return Or, true
	}
	return "", false
}

// ResourceContext is the metadata used for scoped decisions. Empty fields
// never match a principal's assignments.
type ResourceContext struct {
	CompanyID  string            `json:"companyId,omitempty"`
	EstateID   string            `json:"estateId,omitempty"`
	DivisionID string            `json:"divisionId,omitempty"`
	BlockID    string            `json:"blockId,omitempty"`
	OwnerID    string            `json:"ownerId,omitempty"`
	CreatedBy  string            `json:"createdBy,omitempty"`
	AssignedTo []string          `json:"assignedTo,omitempty"`
	Status     string            `json:"status,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Resource is a specific resource instance
type Resource struct {
	Type    ResourceType    `json:"type"`
	ID      string          `json:"id,omitempty"`
	Context ResourceContext `json:"context"`
}

// ResourcePermissions is a read-only projection of what a principal may do
// with one resource
type ResourcePermissions struct {
	ResourceType     ResourceType `json:"resource_type"`
	ResourceID       string       `json:"resource_id,omitempty"`
	CanCreate        bool         `json:"can_create"`
	CanRead          bool         `json:"can_read"`
	CanUpdate        bool         `json:"can_update"`
	CanDelete        bool         `json:"can_delete"`
	CanManage        bool         `json:"can_manage"`
	AvailableActions []ActionName `json:"available_actions"`
}

// PermissionSource tells where an effective permission set came from
type PermissionSource string

const (
	SourceExplicit PermissionSource = "explicit"
	SourceRole     PermissionSource = "role"
)

// AssignmentScope mirrors the principal's scoping sets
type AssignmentScope struct {
	CompanyAdminFor   []string `json:"company_admin_for"`
	AssignedCompanies []string `json:"assigned_companies"`
	AssignedEstates   []string `json:"assigned_estates"`
	AssignedDivisions []string `json:"assigned_divisions"`
}

// PermissionAnalysis is a non-authoritative snapshot for tooling
type PermissionAnalysis struct {
	PrincipalID          string           `json:"principal_id"`
	Role                 auth.Role        `json:"role"`
	RoleLabel            string           `json:"role_label,omitempty"`
	Level                int              `json:"level,omitempty"`
	KnownRole            bool             `json:"known_role"`
	SuperAdmin           bool             `json:"super_admin"`
	Source               PermissionSource `json:"source"`
	EffectivePermissions []string         `json:"effective_permissions"`
	Scope                AssignmentScope  `json:"scope"`
	ManageableRoles      []auth.Role      `json:"manageable_roles,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
}
