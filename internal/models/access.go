package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset share roles.
const (
	AccessRoleViewer = "viewer"
	AccessRoleEditor = "editor"
)

// DatasetShare is one row of the admin share listing: either a registered user
// with access, or an email whose share is pending registration.
type DatasetShare struct {
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Email      string     `json:"email"`
	AccessRole string     `json:"access_role"`
	CreatedAt  time.Time  `json:"created_at"`
	Pending    bool       `json:"pending"`
}

// AuditEvent is an append-only record of a privileged action.
type AuditEvent struct {
	OrgID     uuid.UUID
	UserID    *uuid.UUID
	EventType string
	EventData map[string]any
	IP        string
	UserAgent string
}
