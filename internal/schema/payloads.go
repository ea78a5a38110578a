package schema

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Item type tags.
const (
	TypeImagePairCompare   = "image_pair_compare"
	TypeImageRankedGallery = "image_ranked_gallery"
	TypeVideoWithTimeline  = "video_with_timeline"
	TypeAudioWithCaptions  = "audio_with_captions"
)

// Ranking methods accepted by image_ranked_gallery.
const (
	RankingFullRank = "full_rank"
	RankingScores   = "scores"
	RankingPairwise = "pairwise"
)

// AssetRef is an asset id found in a payload, with its path relative to the payload.
type AssetRef struct {
	Path string
	ID   uuid.UUID
}

// Payload is one variant of the item payload union.
type Payload interface {
	ItemType() string
	AssetRefs() []AssetRef
}

// ImagePairCompare compares two images against a prompt.
type ImagePairCompare struct {
	LeftAssetID  uuid.UUID      `json:"left_asset_id"`
	RightAssetID uuid.UUID      `json:"right_asset_id"`
	Prompt       string         `json:"prompt"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (ImagePairCompare) ItemType() string { return TypeImagePairCompare }

func (p ImagePairCompare) AssetRefs() []AssetRef {
	return []AssetRef{
		{Path: "left_asset_id", ID: p.LeftAssetID},
		{Path: "right_asset_id", ID: p.RightAssetID},
	}
}

// Rankings is the ranking block of a gallery. Data holds the method-specific shape.
type Rankings struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// ImageRankedGallery is an ordered or scored set of images.
type ImageRankedGallery struct {
	AssetIDs []uuid.UUID    `json:"asset_ids"`
	Prompt   string         `json:"prompt"`
	Rankings Rankings       `json:"rankings"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (ImageRankedGallery) ItemType() string { return TypeImageRankedGallery }

func (p ImageRankedGallery) AssetRefs() []AssetRef {
	refs := make([]AssetRef, len(p.AssetIDs))
	for i, id := range p.AssetIDs {
		refs[i] = AssetRef{Path: Index("asset_ids", i), ID: id}
	}
	return refs
}

// VideoWithTimeline is a video with an optional poster frame.
type VideoWithTimeline struct {
	VideoAssetID       uuid.UUID      `json:"video_asset_id"`
	PosterImageAssetID *uuid.UUID     `json:"poster_image_asset_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

func (VideoWithTimeline) ItemType() string { return TypeVideoWithTimeline }

func (p VideoWithTimeline) AssetRefs() []AssetRef {
	refs := []AssetRef{{Path: "video_asset_id", ID: p.VideoAssetID}}
	if p.PosterImageAssetID != nil {
		refs = append(refs, AssetRef{Path: "poster_image_asset_id", ID: *p.PosterImageAssetID})
	}
	return refs
}

// AudioWithCaptions is an audio clip, usually paired with captions_v1 annotations.
type AudioWithCaptions struct {
	AudioAssetID uuid.UUID      `json:"audio_asset_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (AudioWithCaptions) ItemType() string { return TypeAudioWithCaptions }

func (p AudioWithCaptions) AssetRefs() []AssetRef {
	return []AssetRef{{Path: "audio_asset_id", ID: p.AudioAssetID}}
}

func validateImagePairCompare(raw json.RawMessage) (Payload, []FieldError) {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return nil, errs
	}
	var p ImagePairCompare
	p.LeftAssetID, _ = o.requireUUID("left_asset_id")
	p.RightAssetID, _ = o.requireUUID("right_asset_id")
	p.Prompt, _ = o.requireString("prompt")
	p.Metadata, _ = o.optionalMetadata("metadata")
	o.close()
	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

// minGalleryAssets is the smallest gallery worth ranking.
const minGalleryAssets = 2

func validateImageRankedGallery(raw json.RawMessage) (Payload, []FieldError) {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return nil, errs
	}
	var p ImageRankedGallery
	if arr, ok := o.requireArray("asset_ids"); ok {
		if len(arr) < minGalleryAssets {
			o.add("asset_ids", ErrWrongType, "must contain at least 2 asset ids")
		}
		for i, el := range arr {
			if id, ok := decodeUUID(el, Index("asset_ids", i), &errs); ok {
				p.AssetIDs = append(p.AssetIDs, id)
			}
		}
	}
	p.Prompt, _ = o.requireString("prompt")
	if r, ok := o.requireObject("rankings"); ok {
		p.Rankings = validateRankings(r)
	}
	p.Metadata, _ = o.optionalMetadata("metadata")
	o.close()
	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

func validateRankings(r *object) Rankings {
	var out Rankings
	method, ok := r.requireString("method")
	dataRaw, hasData := r.required("data")
	r.close()
	if !ok {
		return out
	}
	out.Method = method
	out.Data = dataRaw
	switch method {
	case RankingFullRank, RankingScores, RankingPairwise:
	default:
		r.add(r.at("method"), ErrWrongType, "must be one of full_rank, scores, pairwise")
		return out
	}
	if !hasData {
		return out
	}
	d, ok := openObject(dataRaw, r.at("data"), r.errs)
	if !ok {
		return out
	}
	switch method {
	case RankingFullRank:
		if arr, ok := d.requireArray("order"); ok {
			for i, el := range arr {
				decodeString(el, Index(d.at("order"), i), d.errs)
			}
		}
		d.requireInt("annotator_count")
	case RankingScores:
		if s, ok := d.requireObject("scores"); ok {
			for _, k := range s.keys() {
				v, _ := s.take(k)
				decodeNumber(v, s.at(k), s.errs)
			}
		}
		d.requireString("scale")
	case RankingPairwise:
		// no fields; anything present is extra
	}
	d.close()
	return out
}

func validateVideoWithTimeline(raw json.RawMessage) (Payload, []FieldError) {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return nil, errs
	}
	var p VideoWithTimeline
	p.VideoAssetID, _ = o.requireUUID("video_asset_id")
	p.PosterImageAssetID, _ = o.optionalUUID("poster_image_asset_id")
	p.Metadata, _ = o.optionalMetadata("metadata")
	o.close()
	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

func validateAudioWithCaptions(raw json.RawMessage) (Payload, []FieldError) {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return nil, errs
	}
	var p AudioWithCaptions
	p.AudioAssetID, _ = o.requireUUID("audio_asset_id")
	p.Metadata, _ = o.optionalMetadata("metadata")
	o.close()
	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}
