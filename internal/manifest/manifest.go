// Package manifest validates a submitted manifest end to end: payload
// schemas, annotation schemas, asset ownership and stored-object
// reconciliation. It never mutates state.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/schema"
)

// Manifest is the client document describing items to publish or append.
// Items stay raw so unknown keys can be reported with their paths.
type Manifest struct {
	Items []json.RawMessage `json:"items"`
}

// Item is a validated manifest item ready to persist.
type Item struct {
	Type        string
	Title       *string
	Summary     *string
	Payload     schema.Payload
	PayloadJSON json.RawMessage
	Annotations []Annotation
	// AssetIDs lists distinct referenced assets in first-reference order.
	AssetIDs []uuid.UUID
}

// Annotation is a validated annotation block.
type Annotation struct {
	Schema string
	Data   json.RawMessage
}

// ValidationError carries the complete list of violations for one manifest.
type ValidationError struct {
	Errors []schema.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "manifest invalid"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Path, fe.Message))
	}
	return "manifest invalid: " + strings.Join(parts, "; ")
}

var (
	itemKeys       = map[string]bool{"type": true, "title": true, "summary": true, "payload": true, "annotations": true}
	annotationKeys = map[string]bool{"schema": true, "data": true}
)

// envelope splits a raw object into fields, reporting wrong_type or extra keys.
func envelope(raw json.RawMessage, path string, allowed map[string]bool, errs *[]schema.FieldError) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	var fields map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &fields) != nil {
		*errs = append(*errs, schema.FieldError{Path: path, Type: schema.ErrWrongType, Message: "must be an object"})
		return nil, false
	}
	for _, k := range sortedKeys(fields) {
		if !allowed[k] {
			*errs = append(*errs, schema.FieldError{Path: schema.Join(path, k), Type: schema.ErrExtraForbidden, Message: "extra fields not permitted"})
		}
	}
	return fields, true
}

func stringField(fields map[string]json.RawMessage, key, path string, required bool, errs *[]schema.FieldError) (*string, bool) {
	raw, ok := fields[key]
	if !ok || (!required && string(bytes.TrimSpace(raw)) == "null") {
		if required {
			*errs = append(*errs, schema.FieldError{Path: schema.Join(path, key), Type: schema.ErrMissingRequired, Message: "field required"})
			return nil, false
		}
		return nil, true
	}
	var s string
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '"' || json.Unmarshal(t, &s) != nil {
		*errs = append(*errs, schema.FieldError{Path: schema.Join(path, key), Type: schema.ErrWrongType, Message: "must be a string"})
		return nil, false
	}
	return &s, true
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func sortedKeys(m map[string]json.RawMessage) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
