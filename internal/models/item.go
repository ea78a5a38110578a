package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Item is one unit of content with a type-specific payload. Immutable after creation.
type Item struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"org_id"`
	DatasetID uuid.UUID       `json:"dataset_id"`
	Type      string          `json:"type"`
	Title     *string         `json:"title,omitempty"`
	Summary   *string         `json:"summary,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ItemSummary is the listing projection of an item.
type ItemSummary struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Title     *string   `json:"title"`
	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Annotation is structured auxiliary data attached to an item.
type Annotation struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"-"`
	DatasetID uuid.UUID       `json:"-"`
	ItemID    uuid.UUID       `json:"item_id"`
	Schema    string          `json:"schema"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
