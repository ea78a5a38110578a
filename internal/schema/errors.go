package schema

import "strconv"

// Error types reported in FieldError.Type.
const (
	ErrExtraForbidden           = "extra_forbidden"
	ErrMissingRequired          = "missing_required"
	ErrWrongType                = "wrong_type"
	ErrUnsupportedType          = "unsupported_type"
	ErrInvalidAnnotation        = "invalid_annotation"
	ErrAssetNotUploaded         = "asset_not_uploaded"
	ErrAssetMissingInStorage    = "asset_missing_in_storage"
	ErrAssetSizeMismatch        = "asset_size_mismatch"
	ErrAssetContentTypeMismatch = "asset_content_type_mismatch"
)

// FieldError is one violation at a JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Prefix returns a copy of errs with prefix joined onto every path.
func Prefix(prefix string, errs []FieldError) []FieldError {
	out := make([]FieldError, len(errs))
	for i, e := range errs {
		e.Path = Join(prefix, e.Path)
		out[i] = e
	}
	return out
}

// Join appends key to a dotted path. Index segments ("[3]") attach without a dot.
func Join(base, key string) string {
	switch {
	case base == "":
		return key
	case key == "":
		return base
	case key[0] == '[':
		return base + key
	default:
		return base + "." + key
	}
}

// Index returns base[i].
func Index(base string, i int) string {
	return base + "[" + strconv.Itoa(i) + "]"
}
