package rbac

import (
	"strings"
)

// Pattern is a permission expression over one namespace: either
// resource:* or resource:a,b,c
type Pattern struct {
	Resource ResourceType `json:"resource"`
	Actions  []Action     `json:"actions,omitempty"`
	Wildcard bool         `json:"wildcard"`
}

// String returns the pattern in its textual form
func (p Pattern) String() string {
	if p.Wildcard {
		return string(p.Resource) + permissionSeparator + actionWildcard
	}
	actions := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = string(a)
	}
	return string(p.Resource) + permissionSeparator + strings.Join(actions, ",")
}

// Permissions expands a list pattern into its individual permissions.
// A wildcard pattern expands to nothing.
func (p Pattern) Permissions() []Permission {
	if p.Wildcard {
		return nil
	}
	out := make([]Permission, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = NewPermission(p.Resource, a)
	}
	return out
}

// ParsePattern parses a wildcard or list pattern. isNamespace decides whether
// the resource half names an existing namespace.
func ParsePattern(s string, isNamespace func(ResourceType) bool) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "empty"}
	}
	if s != strings.ToLower(s) {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "must be lower-case"}
	}
	if strings.Count(s, permissionSeparator) != 1 {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "must contain exactly one colon"}
	}

	resource, actionList, _ := strings.Cut(s, permissionSeparator)
	if resource == "" {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "resource is empty"}
	}
	rt := ResourceType(resource)
	if isNamespace != nil && !isNamespace(rt) {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "unknown resource namespace " + resource}
	}

	if actionList == actionWildcard {
		return Pattern{Resource: rt, Wildcard: true}, nil
	}

	p := Pattern{Resource: rt}
	seen := make(map[Action]struct{})
	for _, part := range strings.Split(actionList, ",") {
		a := Action(strings.TrimSpace(part))
		if a == "" {
			return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "empty action in list"}
		}
		if strings.ContainsAny(string(a), "* |") {
			return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "invalid action " + string(a)}
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		p.Actions = append(p.Actions, a)
	}
	return p, nil
}
