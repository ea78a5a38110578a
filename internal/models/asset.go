package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset kinds.
const (
	AssetKindImage = "image"
	AssetKindVideo = "video"
	AssetKindAudio = "audio"
	AssetKindOther = "other"
)

// Asset is a binary object referenced by items. The row exists before its bytes land.
type Asset struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"org_id"`
	DatasetID   uuid.UUID  `json:"dataset_id"`
	ItemID      *uuid.UUID `json:"item_id,omitempty"`
	Kind        string     `json:"kind"`
	StorageKey  string     `json:"storage_key"`
	ContentType string     `json:"content_type"`
	ByteSize    int64      `json:"byte_size"`
	SHA256      *string    `json:"sha256,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AssetSummary is the asset metadata exposed on item detail.
type AssetSummary struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
}
