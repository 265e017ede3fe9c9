package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// ActionName is a business-level verb that maps onto one canonical permission
type ActionName string

// Domain verbs. CRUD verbs follow the <action>_<resource> form and are
// generated for every resource type, see CRUDAction.
const (
	ApproveHarvest   ActionName = "approve_harvest"
	RejectHarvest    ActionName = "reject_harvest"
	PerformGateCheck ActionName = "perform_gate_check"
	RecordWeighing   ActionName = "record_weighing"
	ApproveGrading   ActionName = "approve_grading"
	RejectGrading    ActionName = "reject_grading"
	ViewReports      ActionName = "view_reports"
	ExportReports    ActionName = "export_reports"
	ResetPassword    ActionName = "reset_password"
	ToggleUserStatus ActionName = "toggle_user_status"
	UpdateOwnProfile ActionName = "update_own_profile"
)

// CRUDAction returns the verb for action on rt, e.g. create_harvest
func CRUDAction(action Action, rt ResourceType) ActionName {
	return ActionName(string(action) + "_" + string(rt))
}

// ActionRegistry is the closed mapping from action names to permissions.
// It is built once and read concurrently without locking.
type ActionRegistry struct {
	actions    map[ActionName]Permission
	byResource map[ResourceType][]ActionName
}

func defaultActions() map[ActionName]Permission {
	m := make(map[ActionName]Permission)
	for _, rt := range ResourceTypes {
		for _, a := range crudActions {
			m[CRUDAction(a, rt)] = NewPermission(rt, a)
		}
		m[ActionName("view_"+string(rt))] = NewPermission(rt, ActionRead)
		m[ActionName("edit_"+string(rt))] = NewPermission(rt, ActionUpdate)
	}

	m[ApproveHarvest] = NewPermission(ResourceHarvest, ActionApprove)
	m[RejectHarvest] = NewPermission(ResourceHarvest, ActionReject)
	m[PerformGateCheck] = NewPermission(ResourceGateCheck, ActionCreate)
	m[RecordWeighing] = NewPermission(ResourceWeighing, ActionCreate)
	m[ApproveGrading] = NewPermission(ResourceGrading, ActionApprove)
	m[RejectGrading] = NewPermission(ResourceGrading, ActionReject)
	m[ViewReports] = NewPermission(ResourceReport, ActionRead)
	m[ExportReports] = NewPermission(ResourceReport, ActionExport)
	m[ResetPassword] = NewPermission(ResourceUser, ActionResetPassword)
	m[ToggleUserStatus] = NewPermission(ResourceUser, ActionToggleStatus)
	m[UpdateOwnProfile] = NewPermission(ResourceUser, ActionUpdateOwn)
	return m
}

// NewActionRegistry builds a registry from the built-in verbs plus extra,
// whose values are permission strings. Extra entries may not redefine a
// built-in verb.
func NewActionRegistry(extra map[ActionName]string) (*ActionRegistry, error) {
	actions := defaultActions()
	for name, raw := range extra {
		name = ActionName(normalizeAction(string(name)))
		if name == "" {
			return nil, fmt.Errorf("empty action name")
		}
		if _, exists := actions[name]; exists {
			return nil, fmt.Errorf("action %q is already registered", name)
		}
		perm, err := ParsePermission(raw)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
		actions[name] = perm
	}

	r := &ActionRegistry{
		actions:    actions,
		byResource: make(map[ResourceType][]ActionName),
	}
	for name, perm := range actions {
		r.byResource[perm.Resource] = append(r.byResource[perm.Resource], name)
	}
	for rt := range r.byResource {
		names := r.byResource[rt]
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	}
	return r, nil
}

// DefaultActionRegistry returns a registry with only the built-in verbs
func DefaultActionRegistry() *ActionRegistry {
	r, err := NewActionRegistry(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve maps an action name to its permission. A string that is itself a
// well-formed resource:action permission resolves to that permission, so
// dynamic permissions need no registration. Anything else is an
// *UnknownActionError.
func (r *ActionRegistry) Resolve(name string) (Permission, error) {
	key := normalizeAction(name)
	if key == "" {
		return Permission{}, &UnknownActionError{Action: name}
	}
	if perm, ok := r.actions[ActionName(key)]; ok {
		return perm, nil
	}
	if strings.Contains(key, permissionSeparator) {
		if perm, err := ParsePermission(key); err == nil {
			return perm, nil
		}
	}
	return Permission{}, &UnknownActionError{Action: name}
}

// IsRegistered reports whether name is a registered verb
func (r *ActionRegistry) IsRegistered(name string) bool {
	_, ok := r.actions[ActionName(normalizeAction(name))]
	return ok
}

// ActionsFor returns the sorted verbs whose permission is in rt's namespace
func (r *ActionRegistry) ActionsFor(rt ResourceType) []ActionName {
	return r.byResource[rt]
}

// hasNamespace reports whether any verb maps into rt
func (r *ActionRegistry) hasNamespace(rt ResourceType) bool {
	_, ok := r.byResource[rt]
	return ok
}

func normalizeAction(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
