package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rushilcs/data-viewer/internal/schema"
)

var (
	// ErrNotFound is returned for datasets or assets outside the caller's org.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller's role may not perform the operation.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrSizeMismatch is returned when an upload body differs from the declared size.
	ErrSizeMismatch = errors.New("upload size does not match declared byte_size")
)

// ConflictError reports a state conflict such as a double publish.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// FileSpecError lists every violation in an upload-grant request.
type FileSpecError struct {
	Errors []schema.FieldError
}

func (e *FileSpecError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Path, fe.Message))
	}
	return "invalid file specs: " + strings.Join(parts, "; ")
}

func conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// Conflict reasons.
const (
	ReasonAlreadyPublished = "dataset already published"
	ReasonArchived         = "dataset is archived"
	ReasonNotPublished     = "dataset is not published"
	ReasonAssetLinked      = "asset already linked to an item"
	ReasonAlreadyUploaded  = "asset already uploaded"
)
