package auth

import (
	"strings"
	"time"
)

// Role identifies a principal's position in the estate hierarchy
type Role string

const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"   // System-wide administration
	RoleCompanyAdmin Role = "COMPANY_ADMIN" // Administers one or more companies
	RoleAreaManager  Role = "AREA_MANAGER"  // Monitors several companies
	RoleManager      Role = "MANAGER"       // Manages estates
	RoleAsisten      Role = "ASISTEN"       // Division assistant, approves harvests
	RoleMandor       Role = "MANDOR"        // Field supervisor, records harvests
	RoleSatpam       Role = "SATPAM"        // Gate security
	RoleTimbangan    Role = "TIMBANGAN"     // Weighing officer
	RoleGrading      Role = "GRADING"       // Grading officer
)

// Principal is the authenticated actor whose permissions are evaluated.
// A Principal is an immutable snapshot for the lifetime of a session; it is
// replaced wholesale on re-login or profile refresh, never edited in place.
// Slice fields have set semantics.
type Principal struct {
	ID                  string   `json:"id"`
	Email               string   `json:"email,omitempty"`
	Username            string   `json:"username,omitempty"`
	Role                Role     `json:"role"`
	ExplicitPermissions []string `json:"explicit_permissions,omitempty"`
	CompanyAdminFor     []string `json:"company_admin_for,omitempty"`
	AssignedCompanies   []string `json:"assigned_companies,omitempty"`
	AssignedEstates     []string `json:"assigned_estates,omitempty"`
	AssignedDivisions   []string `json:"assigned_divisions,omitempty"`
}

// IsAdminFor reports whether companyID is in the principal's administered set
func (p *Principal) IsAdminFor(companyID string) bool {
	return contains(p.CompanyAdminFor, companyID)
}

// InCompany reports whether companyID is one of the assigned companies
func (p *Principal) InCompany(companyID string) bool {
	return contains(p.AssignedCompanies, companyID)
}

// InEstate reports whether estateID is one of the assigned estates
func (p *Principal) InEstate(estateID string) bool {
	return contains(p.AssignedEstates, estateID)
}

// InDivision reports whether divisionID is one of the assigned divisions
func (p *Principal) InDivision(divisionID string) bool {
	return contains(p.AssignedDivisions, divisionID)
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Credentials carries what the user typed on the login form
type Credentials struct {
	Identifier string `json:"identifier"` // username or email
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
}

// PrincipalKey returns the stable key used for lockout tracking.
// It is derived from the identifier, never from a session.
func (c Credentials) PrincipalKey() string {
	return NormalizeKey(c.Identifier)
}

// NormalizeKey trims and lower-cases a principal identifier
func NormalizeKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Platform is the client platform a strategy targets
type Platform string

const (
	PlatformWeb    Platform = "WEB"
	PlatformMobile Platform = "MOBILE"
)

// Method is the credential carrier used after login
type Method string

const (
	MethodCookie  Method = "COOKIE"
	MethodJWT     Method = "JWT"
	MethodSession Method = "SESSION"
)

// Strategy describes how a client authenticates. It is derived per login
// attempt and never persisted on its own.
type Strategy struct {
	Platform        Platform `json:"platform"`
	Method          Method   `json:"method"`
	OfflineCapable  bool     `json:"offline_capable"`
	RefreshRequired bool     `json:"refresh_required"`
}

// ClientContext is what the selector knows about the calling client
type ClientContext struct {
	UserAgent        string `json:"user_agent,omitempty"`
	PlatformHint     string `json:"platform_hint,omitempty"`
	StoredPreference Method `json:"stored_preference,omitempty"`
	DeviceID         string `json:"device_id,omitempty"`
}

// TokenSet is what the identity server hands back on a successful exchange
type TokenSet struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Principal    *Principal `json:"principal,omitempty"`
}
