package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary; every other row carries its id.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Roles carried by an authenticated identity.
const (
	RoleAdmin     = "admin"
	RolePublisher = "publisher"
	RoleViewer    = "viewer"
)

// User is a member of exactly one organization.
type User struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the already-authenticated caller handed to every operation.
type Identity struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   string
	Email  string
}

// CanManage reports whether the identity may see and mutate draft datasets.
func (i Identity) CanManage() bool {
	return i.Role == RoleAdmin || i.Role == RolePublisher
}
