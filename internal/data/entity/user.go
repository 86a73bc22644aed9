package entity

import "github.com/google/uuid"

type UserRole string

const (
	RoleUser     UserRole = "user"
	RoleGarage   UserRole = "garage"
	RoleMechanic UserRole = "mechanic"
	RoleAdmin    UserRole = "admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleUser, RoleGarage, RoleMechanic, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	Base
	Name     string     `db:"name"`
	Email    string     `db:"email"`
	Phone    *string    `db:"phone"`
	Role     UserRole   `db:"role"`
	GarageID *uuid.UUID `db:"garage_id"` // mechanics only
	IsActive bool       `db:"is_active"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID   uuid.UUID
	Role     UserRole
	GarageID *uuid.UUID
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// BelongsToGarage reports whether a mechanic actor works for garageID.
func (a Actor) BelongsToGarage(garageID *uuid.UUID) bool {
	return a.Role == RoleMechanic && a.GarageID != nil && garageID != nil && *a.GarageID == *garageID
}
