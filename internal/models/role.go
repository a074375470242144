package models

import (
	"errors"
	"fmt"
)

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleUser     Role = "USER"
	RoleManager  Role = "MANAGER"
	RoleEditor   Role = "EDITOR"
	RoleCustomer Role = "CUSTOMER"
)

var ErrUnknownRole = errors.New("unknown role")

var knownRoles = map[Role]struct{}{
	RoleAdmin:    {},
	RoleUser:     {},
	RoleManager:  {},
	RoleEditor:   {},
	RoleCustomer: {},
}

// DefaultRole is embedded in access tokens when the caller supplies none.
func DefaultRole() Role {
	return RoleUser
}

// ParseRole validates a role string coming from outside the process.
// An empty string resolves to the default role.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return DefaultRole(), nil
	}
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// OrDefault returns r, or the default role when r is empty.
func (r Role) OrDefault() Role {
	if r == "" {
		return DefaultRole()
	}
	return r
}
