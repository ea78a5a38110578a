package ingest

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

// DefaultMaxFiles caps the files of one upload batch.
const DefaultMaxFiles = 500

const maxFilenameLen = 200

// FileSpec declares one object a client is about to upload.
type FileSpec struct {
	Filename    string  `json:"filename"`
	Kind        string  `json:"kind"`
	ContentType string  `json:"content_type"`
	ByteSize    int64   `json:"byte_size"`
	SHA256      *string `json:"sha256,omitempty"`
}

// Per-kind size ceilings.
var maxBytes = map[string]int64{
	models.AssetKindImage: 50 << 20,
	models.AssetKindVideo: 500 << 20,
	models.AssetKindAudio: 100 << 20,
	models.AssetKindOther: 10 << 20,
}

var contentTypes = glob.MustCompile("{image/png,image/jpeg,image/webp,video/mp4,audio/mpeg,audio/wav,audio/webm,text/vtt,application/json}")

var (
	unsafeFilename = regexp.MustCompile(`[^\w\-.]`)
	sha256Hex      = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// SanitizeFilename keeps the base name, replaces unsafe characters with '_'
// and truncates to 200 characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		name = ""
	}
	name = unsafeFilename.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if strings.Trim(name, ".") == "" {
		name = "file"
	}
	return name
}

// StorageKey places an object under its org and dataset with a unique prefix.
func StorageKey(orgID, datasetID, assetID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s_%s", orgID, datasetID, strings.ReplaceAll(assetID.String(), "-", ""), filename)
}

// ValidateFiles checks a batch of file specs and returns every violation.
func ValidateFiles(files []FileSpec, maxFiles int) []schema.FieldError {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if len(files) == 0 {
		return []schema.FieldError{{Path: "files", Type: schema.ErrMissingRequired, Message: "at least one file is required"}}
	}
	if len(files) > maxFiles {
		return []schema.FieldError{{Path: "files", Type: schema.ErrWrongType, Message: fmt.Sprintf("at most %d files per batch", maxFiles)}}
	}
	var errs []schema.FieldError
	for i, f := range files {
		p := schema.Index("files", i)
		if strings.TrimSpace(f.Filename) == "" {
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "filename"), Type: schema.ErrMissingRequired, Message: "field required"})
		}
		limit, ok := maxBytes[f.Kind]
		if !ok {
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "kind"), Type: schema.ErrUnsupportedType, Message: "kind must be one of image, video, audio, other"})
		}
		if ct := storage.NormalizeContentType(f.ContentType); !contentTypes.Match(ct) {
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "content_type"), Type: schema.ErrUnsupportedType, Message: fmt.Sprintf("content type %q is not allowed", f.ContentType)})
		}
		switch {
		case f.ByteSize <= 0:
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "byte_size"), Type: schema.ErrWrongType, Message: "byte_size must be positive"})
		case ok && f.ByteSize > limit:
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "byte_size"), Type: schema.ErrWrongType,
				Message: fmt.Sprintf("%s exceeds the %s limit for %s", humanize.IBytes(uint64(f.ByteSize)), humanize.IBytes(uint64(limit)), f.Kind)})
		}
		if f.SHA256 != nil && !sha256Hex.MatchString(strings.ToLower(*f.SHA256)) {
			errs = append(errs, schema.FieldError{Path: schema.Join(p, "sha256"), Type: schema.ErrWrongType, Message: "sha256 must be 64 hex characters"})
		}
	}
	return errs
}
