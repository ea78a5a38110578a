package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetStatus values.
const (
	DatasetStatusDraft     = "draft"
	DatasetStatusPublished = "published"
	DatasetStatusArchived  = "archived"
)

// Dataset is an organization-scoped collection of items.
type Dataset struct {
	ID              uuid.UUID  `json:"id"`
	OrgID           uuid.UUID  `json:"org_id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description,omitempty"`
	Tags            []string   `json:"tags"`
	Status          string     `json:"status"`
	CreatedByUserID uuid.UUID  `json:"created_by_user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

// HasTag reports whether the dataset carries tag.
func (d *Dataset) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
