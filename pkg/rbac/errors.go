package rbac

import (
	"errors"
	"fmt"

	"github.com/agrinova/authd/pkg/auth"
)

// ErrNilPrincipal is reported when a check is made without a principal
var ErrNilPrincipal = errors.New("principal is nil")

// UnknownRoleError is returned by the catalog for an unregistered role
type UnknownRoleError struct {
	Role auth.Role
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q", string(e.Role))
}

// UnknownActionError is returned for an action name with no mapping
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// InvalidPermissionError is returned for a malformed permission string
type InvalidPermissionError struct {
	Value  string
	Reason string
}

func (e *InvalidPermissionError) Error() string {
	return fmt.Sprintf("invalid permission %q: %s", e.Value, e.Reason)
}

// InvalidPatternError is returned for a malformed wildcard pattern
type InvalidPatternError struct {
	Pattern string
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid permission pattern %q: %s", e.Pattern, e.Reason)
}

// errorKind labels an error for the resolution error metric
func errorKind(err error) string {
	var (
		roleErr    *UnknownRoleError
		actionErr  *UnknownActionError
		permErr    *InvalidPermissionError
		patternErr *InvalidPatternError
	)
	switch {
	case errors.Is(err, ErrNilPrincipal):
		return "nil_principal"
	case errors.As(err, &roleErr):
		return "unknown_role"
	case errors.As(err, &actionErr):
		return "unknown_action"
	case errors.As(err, &permErr):
		return "invalid_permission"
	case errors.As(err, &patternErr):
		return "invalid_pattern"
	default:
		return "other"
	}
}
