package types

import (
	"strings"
	"time"
)

// Role represents a participant role in the ledger
type Role string

const (
	RoleNone    Role = "none"
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a client-supplied role name onto a Role. Unknown names map to RoleNone.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePatient:
		return RolePatient
	case RoleDoctor:
		return RoleDoctor
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleNone
	}
}

// Registrable reports whether the role may be chosen at self-registration
func (r Role) Registrable() bool {
	return r == RolePatient || r == RoleDoctor
}

// User represents a registered participant. The zero value is the unregistered user.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Role         Role      `json:"role" db:"role"`
	Registered   bool      `json:"registered" db:"registered"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// UnregisteredUser returns the well-defined snapshot for an unknown identity
func UnregisteredUser(id string) User {
	return User{ID: id, Role: RoleNone}
}

// HasRole reports whether the user is registered with the given role
func (u User) HasRole(role Role) bool {
	return u.Registered && u.Role == role
}

// UserRegistrationRequest represents user registration data
type UserRegistrationRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}
