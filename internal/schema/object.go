package schema

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// object walks one JSON object strictly: every key must be consumed by a
// require/optional call before close, or it is reported as extra_forbidden.
type object struct {
	path   string
	fields map[string]json.RawMessage
	seen   map[string]bool
	errs   *[]FieldError
}

func (o *object) add(path, typ, msg string) {
	*o.errs = append(*o.errs, FieldError{Path: path, Type: typ, Message: msg})
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func firstByte(raw json.RawMessage) byte {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// openObject decodes raw as an object at path. A non-object records wrong_type.
func openObject(raw json.RawMessage, path string, errs *[]FieldError) (*object, bool) {
	if firstByte(raw) != '{' {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be an object"})
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be an object"})
		return nil, false
	}
	return &object{path: path, fields: fields, seen: make(map[string]bool, len(fields)), errs: errs}, true
}

func (o *object) take(key string) (json.RawMessage, bool) {
	raw, ok := o.fields[key]
	if ok {
		o.seen[key] = true
	}
	return raw, ok
}

func (o *object) at(key string) string { return Join(o.path, key) }

// keys returns the object's keys in sorted order.
func (o *object) keys() []string {
	ks := make([]string, 0, len(o.fields))
	for k := range o.fields {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// lookup fetches a present key without consuming it.
func (o *object) lookup(key string) (json.RawMessage, bool) {
	raw, ok := o.fields[key]
	return raw, ok
}

func (o *object) required(key string) (json.RawMessage, bool) {
	raw, ok := o.take(key)
	if !ok {
		o.add(o.at(key), ErrMissingRequired, "field required")
		return nil, false
	}
	return raw, true
}

func (o *object) requireString(key string) (string, bool) {
	raw, ok := o.required(key)
	if !ok {
		return "", false
	}
	return decodeString(raw, o.at(key), o.errs)
}

func (o *object) optionalString(key string) (*string, bool) {
	raw, ok := o.take(key)
	if !ok || isNull(raw) {
		return nil, true
	}
	s, ok := decodeString(raw, o.at(key), o.errs)
	if !ok {
		return nil, false
	}
	return &s, true
}

func (o *object) requireUUID(key string) (uuid.UUID, bool) {
	raw, ok := o.required(key)
	if !ok {
		return uuid.Nil, false
	}
	return decodeUUID(raw, o.at(key), o.errs)
}

func (o *object) optionalUUID(key string) (*uuid.UUID, bool) {
	raw, ok := o.take(key)
	if !ok || isNull(raw) {
		return nil, true
	}
	id, ok := decodeUUID(raw, o.at(key), o.errs)
	if !ok {
		return nil, false
	}
	return &id, true
}

func (o *object) requireNumber(key string) (float64, bool) {
	raw, ok := o.required(key)
	if !ok {
		return 0, false
	}
	return decodeNumber(raw, o.at(key), o.errs)
}

func (o *object) requireInt(key string) (int64, bool) {
	raw, ok := o.required(key)
	if !ok {
		return 0, false
	}
	var n json.Number
	if !isNumberStart(firstByte(raw)) || json.Unmarshal(raw, &n) != nil {
		o.add(o.at(key), ErrWrongType, "must be an integer")
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		o.add(o.at(key), ErrWrongType, "must be an integer")
		return 0, false
	}
	return v, true
}

func (o *object) requireArray(key string) ([]json.RawMessage, bool) {
	raw, ok := o.required(key)
	if !ok {
		return nil, false
	}
	return decodeArray(raw, o.at(key), o.errs)
}

func (o *object) requireObject(key string) (*object, bool) {
	raw, ok := o.required(key)
	if !ok {
		return nil, false
	}
	return openObject(raw, o.at(key), o.errs)
}

// optionalMetadata accepts a JSON object or null; the contents are not validated.
func (o *object) optionalMetadata(key string) (map[string]any, bool) {
	raw, ok := o.take(key)
	if !ok || isNull(raw) {
		return nil, true
	}
	var m map[string]any
	if firstByte(raw) != '{' || json.Unmarshal(raw, &m) != nil {
		o.add(o.at(key), ErrWrongType, "must be an object or null")
		return nil, false
	}
	return m, true
}

// close reports every unconsumed key, sorted so output is deterministic.
func (o *object) close() {
	for _, k := range o.keys() {
		if !o.seen[k] {
			o.add(o.at(k), ErrExtraForbidden, "extra fields not permitted")
		}
	}
}

func decodeString(raw json.RawMessage, path string, errs *[]FieldError) (string, bool) {
	var s string
	if firstByte(raw) != '"' || json.Unmarshal(raw, &s) != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be a string"})
		return "", false
	}
	return s, true
}

func decodeUUID(raw json.RawMessage, path string, errs *[]FieldError) (uuid.UUID, bool) {
	var s string
	if firstByte(raw) != '"' || json.Unmarshal(raw, &s) != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be a UUID string"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func decodeNumber(raw json.RawMessage, path string, errs *[]FieldError) (float64, bool) {
	var f float64
	if !isNumberStart(firstByte(raw)) || json.Unmarshal(raw, &f) != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be a number"})
		return 0, false
	}
	return f, true
}

func decodeArray(raw json.RawMessage, path string, errs *[]FieldError) ([]json.RawMessage, bool) {
	var arr []json.RawMessage
	if firstByte(raw) != '[' || json.Unmarshal(raw, &arr) != nil {
		*errs = append(*errs, FieldError{Path: path, Type: ErrWrongType, Message: "must be an array"})
		return nil, false
	}
	return arr, true
}

func isNumberStart(b byte) bool {
	return b == '-' || (b >= '0' && b <= '9')
}
