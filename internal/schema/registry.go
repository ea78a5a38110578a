// Package schema validates item payloads and annotation documents against a
// closed, per-type registry.
package schema

import (
	"encoding/json"
	"sort"
)

// ItemValidator parses one payload variant, returning errors with payload-relative paths.
type ItemValidator func(raw json.RawMessage) (Payload, []FieldError)

// AnnotationValidator checks one annotation schema's data document.
type AnnotationValidator func(raw json.RawMessage) []FieldError

// Registry maps type tags to validators. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	items       map[string]ItemValidator
	annotations map[string]AnnotationValidator
	// allowed restricts annotation schemas per item type. Types without an
	// entry accept every registered schema.
	allowed map[string]map[string]bool
}

// NewRegistry copies the given tables into a new Registry.
func NewRegistry(items map[string]ItemValidator, annotations map[string]AnnotationValidator) *Registry {
	r := &Registry{
		items:       make(map[string]ItemValidator, len(items)),
		annotations: make(map[string]AnnotationValidator, len(annotations)),
	}
	for k, v := range items {
		r.items[k] = v
	}
	for k, v := range annotations {
		r.annotations[k] = v
	}
	return r
}

// DefaultItemValidators returns the built-in item types. Callers may extend
// the returned map before passing it to NewRegistry.
func DefaultItemValidators() map[string]ItemValidator {
	return map[string]ItemValidator{
		TypeImagePairCompare:   validateImagePairCompare,
		TypeImageRankedGallery: validateImageRankedGallery,
		TypeVideoWithTimeline:  validateVideoWithTimeline,
		TypeAudioWithCaptions:  validateAudioWithCaptions,
	}
}

// DefaultAnnotationValidators returns the built-in annotation schemas.
func DefaultAnnotationValidators() map[string]AnnotationValidator {
	return map[string]AnnotationValidator{
		AnnotationTimelineV1: validateTimelineV1,
		AnnotationCaptionsV1: validateCaptionsV1,
	}
}

// DefaultAnnotationRules returns the annotation schemas each built-in item
// type accepts. Image items carry no time-based annotations.
func DefaultAnnotationRules() map[string][]string {
	return map[string][]string{
		TypeImagePairCompare:   {},
		TypeImageRankedGallery: {},
		TypeVideoWithTimeline:  {AnnotationTimelineV1, AnnotationCaptionsV1},
		TypeAudioWithCaptions:  {AnnotationCaptionsV1, AnnotationTimelineV1},
	}
}

// Default builds the registry with every built-in type.
func Default() *Registry {
	return NewRegistry(DefaultItemValidators(), DefaultAnnotationValidators()).
		WithAnnotationRules(DefaultAnnotationRules())
}

// WithAnnotationRules returns a copy of r that only accepts the listed
// annotation schemas on the given item types.
func (r *Registry) WithAnnotationRules(rules map[string][]string) *Registry {
	out := NewRegistry(r.items, r.annotations)
	out.allowed = make(map[string]map[string]bool, len(rules))
	for typ, tags := range rules {
		set := make(map[string]bool, len(tags))
		for _, tag := range tags {
			set[tag] = true
		}
		out.allowed[typ] = set
	}
	return out
}

// Supports reports whether itemType is registered.
func (r *Registry) Supports(itemType string) bool {
	_, ok := r.items[itemType]
	return ok
}

// SupportsAnnotation reports whether schemaTag is registered.
func (r *Registry) SupportsAnnotation(schemaTag string) bool {
	_, ok := r.annotations[schemaTag]
	return ok
}

// AllowsAnnotation reports whether items of itemType may carry schemaTag.
func (r *Registry) AllowsAnnotation(itemType, schemaTag string) bool {
	set, ok := r.allowed[itemType]
	if !ok {
		return true
	}
	return set[schemaTag]
}

// ItemTypes returns the registered item types, sorted.
func (r *Registry) ItemTypes() []string {
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks payload against itemType. An unknown type yields a single
// unsupported_type error with an empty path; callers attach it to the type field.
func (r *Registry) Validate(itemType string, payload json.RawMessage) (Payload, []FieldError) {
	v, ok := r.items[itemType]
	if !ok {
		return nil, []FieldError{{Type: ErrUnsupportedType, Message: "unsupported item type: " + itemType}}
	}
	return v(payload)
}

// ValidateAnnotation checks data against the named annotation schema.
func (r *Registry) ValidateAnnotation(schemaTag string, data json.RawMessage) []FieldError {
	v, ok := r.annotations[schemaTag]
	if !ok {
		return []FieldError{{Type: ErrInvalidAnnotation, Message: "unknown annotation schema: " + schemaTag}}
	}
	return v(data)
}
