package schema

import (
	"encoding/json"
	"sort"
)

// Annotation schema tags.
const (
	AnnotationTimelineV1 = "timeline_v1"
	AnnotationCaptionsV1 = "captions_v1"
)

// timelineStartKeys are accepted spellings of an event's start time, in priority order.
var timelineStartKeys = []string{"t_start", "start", "time"}

func validateTimelineV1(raw json.RawMessage) []FieldError {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return errs
	}
	if events, ok := o.requireArray("events"); ok {
		for i, ev := range events {
			path := Index("events", i)
			e, ok := openObject(ev, path, &errs)
			if !ok {
				continue
			}
			found := false
			for _, k := range timelineStartKeys {
				if v, present := e.lookup(k); present {
					found = true
					decodeNumber(v, e.at(k), &errs)
					break
				}
			}
			if !found {
				errs = append(errs, FieldError{
					Path:    Join(path, "t_start"),
					Type:    ErrMissingRequired,
					Message: "event needs a numeric start time (t_start, start or time)",
				})
			}
		}
	}
	o.close()
	return errs
}

func validateCaptionsV1(raw json.RawMessage) []FieldError {
	var errs []FieldError
	o, ok := openObject(raw, "", &errs)
	if !ok {
		return errs
	}
	if segs, ok := o.requireArray("segments"); ok {
		for i, sg := range segs {
			s, ok := openObject(sg, Index("segments", i), &errs)
			if !ok {
				continue
			}
			start, startOK := s.requireNumber("start")
			if endRaw, present := s.take("end"); present && !isNull(endRaw) {
				if end, ok := decodeNumber(endRaw, s.at("end"), &errs); ok && startOK && end < start {
					s.add(s.at("end"), ErrWrongType, "must be greater than or equal to start")
				}
			}
			s.requireString("text")
			s.close()
		}
	}
	o.close()
	return errs
}

// TimelineEvent is a timeline_v1 event with its start time normalized.
type TimelineEvent struct {
	TStart   float64        `json:"t_start"`
	TEnd     *float64       `json:"t_end,omitempty"`
	Label    *string        `json:"label,omitempty"`
	Track    *string        `json:"track,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CaptionSegment is a captions_v1 segment.
type CaptionSegment struct {
	TStart float64  `json:"t_start"`
	TEnd   *float64 `json:"t_end,omitempty"`
	Text   string   `json:"text"`
}

// NormalizeTimeline extracts events from stored timeline_v1 data, sorted by start.
// Malformed events are skipped; stored data was validated on publish.
func NormalizeTimeline(data json.RawMessage) []TimelineEvent {
	var doc struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	out := make([]TimelineEvent, 0, len(doc.Events))
	for _, ev := range doc.Events {
		var te TimelineEvent
		start, ok := firstFloat(ev, timelineStartKeys...)
		if !ok {
			continue
		}
		te.TStart = start
		if end, ok := firstFloat(ev, "t_end", "end"); ok {
			te.TEnd = &end
		}
		if s, ok := ev["label"].(string); ok {
			te.Label = &s
		}
		if s, ok := ev["track"].(string); ok {
			te.Track = &s
		}
		if m, ok := ev["metadata"].(map[string]any); ok {
			te.Metadata = m
		}
		out = append(out, te)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TStart < out[j].TStart })
	return out
}

// NormalizeCaptions extracts segments from stored captions_v1 data, sorted by start.
func NormalizeCaptions(data json.RawMessage) []CaptionSegment {
	var doc struct {
		Segments []struct {
			Start float64  `json:"start"`
			End   *float64 `json:"end"`
			Text  string   `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	out := make([]CaptionSegment, 0, len(doc.Segments))
	for _, s := range doc.Segments {
		out = append(out, CaptionSegment{TStart: s.Start, TEnd: s.End, Text: s.Text})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TStart < out[j].TStart })
	return out
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			f, ok := v.(float64)
			return f, ok
		}
	}
	return 0, false
}
