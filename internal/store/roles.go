// ABOUTME: Role names and shared helpers for role assignment
// ABOUTME: Roles are stored as flags on the users row

package store

import "fmt"

// Role names a privilege flag a profile can hold
type Role string

const (
	RoleStaff Role = "staff"
)

// ValidRoles lists all assignable roles. The superuser is configured, not
// stored.
var ValidRoles = []Role{
	RoleStaff,
}

// column maps a role to its users column.
func (r Role) column() (string, error) {
	switch r {
	case RoleStaff:
		return "is_staff", nil
	}
	return "", fmt.Errorf("unknown role %q", r)
}
