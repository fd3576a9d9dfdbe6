// Package auth resolves the caller of a request into a Principal and runs
// the authorization checks every mutating operation goes through.
package auth

// Source identifies which credential system produced a Principal.
type Source string

// Principal sources.
const (
	SourceFederated Source = "federated"
	SourceLocal     Source = "local"
)

// Role is the privilege level of a Principal.
type Role string

// Roles.
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ReservedAdminUsername is the local credential that administers other
// local credentials. It cannot be deleted or reset through self-service or
// admin HTTP paths.
const ReservedAdminUsername = "admin"

// Principal is the normalized identity of an authenticated caller. It is
// implemented only by FederatedPrincipal and LocalPrincipal; callers switch
// on the concrete type when they need source-specific fields.
type Principal interface {
	// ID is the stable identifier used as a foreign key in shared tables.
	ID() string
	Source() Source
	Role() Role
	// Label is a human-readable name: the email for federated principals
	// and the username for local ones.
	Label() string

	principal()
}

// FederatedPrincipal was authenticated by the hosted identity provider.
type FederatedPrincipal struct {
	Subject string
	Email   string
	role    Role
}

// NewFederatedPrincipal builds a federated principal with the given role.
func NewFederatedPrincipal(subject, email string, role Role) FederatedPrincipal {
	return FederatedPrincipal{Subject: subject, Email: email, role: role}
}

func (p FederatedPrincipal) ID() string     { return p.Subject }
func (p FederatedPrincipal) Source() Source { return SourceFederated }
func (p FederatedPrincipal) Role() Role     { return p.role }
func (p FederatedPrincipal) Label() string  { return p.Email }
func (FederatedPrincipal) principal()       {}

// LocalPrincipal was authenticated by a locally signed session token.
type LocalPrincipal struct {
	UID      string
	Username string
	role     Role
}

// NewLocalPrincipal builds a local principal with the given role.
func NewLocalPrincipal(uid, username string, role Role) LocalPrincipal {
	return LocalPrincipal{UID: uid, Username: username, role: role}
}

func (p LocalPrincipal) ID() string     { return p.UID }
func (p LocalPrincipal) Source() Source { return SourceLocal }
func (p LocalPrincipal) Role() Role     { return p.role }
func (p LocalPrincipal) Label() string  { return p.Username }
func (LocalPrincipal) principal()       {}

// IsLocalAdmin reports whether p is the reserved local administrator.
func IsLocalAdmin(p Principal) bool {
	local, ok := p.(LocalPrincipal)

	return ok && local.Username == ReservedAdminUsername
}

// ParseRole maps a stored role string onto a Role. Unknown values become
// RoleMember.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}

	return RoleMember
}
