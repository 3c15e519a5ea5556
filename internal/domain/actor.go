package domain

import "strings"

// Role identifies the capacity in which an actor calls the platform.
type Role string

const (
	// RoleCustomer is a storefront shopper acting on their own orders.
	RoleCustomer Role = "customer"
	// RoleEmployee is branch staff handling packing.
	RoleEmployee Role = "employee"
	// RoleManager supervises a branch and confirms orders for it.
	RoleManager Role = "manager"
	// RoleShipper delivers orders on behalf of a branch.
	RoleShipper Role = "shipper"
	// RoleAdmin operates across all branches.
	RoleAdmin Role = "admin"
	// RoleService marks another backend service calling with a service token.
	RoleService Role = "service"
)

// ParseRole maps a claim value onto a known role. Unknown values yield false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleCustomer, RoleEmployee, RoleManager, RoleShipper, RoleAdmin, RoleService:
		return role, true
	default:
		return "", false
	}
}

// BranchScoped reports whether the role only acts inside its own branch.
func (r Role) BranchScoped() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleShipper:
		return true
	default:
		return false
	}
}

// Staff reports whether the role belongs to branch personnel or administrators.
func (r Role) Staff() bool {
	return r.BranchScoped() || r == RoleAdmin
}

// Actor is the authenticated principal behind a request.
type Actor struct {
	ID       string
	Role     Role
	BranchID string
}

// Is reports whether the actor holds the role.
func (a Actor) Is(role Role) bool {
	return a.Role == role
}
