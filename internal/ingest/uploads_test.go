package ingest

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"my photo (1).png", "my_photo__1_.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\clip.mp4`, "clip.mp4"},
		{"..", "file"},
		{"", "file"},
		{"naïve.wav", "na_ve.wav"},
		{strings.Repeat("a", 250) + ".png", strings.Repeat("a", 200)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := SanitizeFilename(tc.in); got != tc.want {
				t.Fatalf("SanitizeFilename(%q): want=%q got=%q", tc.in, tc.want, got)
			}
		})
	}
}

func TestStorageKey(t *testing.T) {
	org, ds, asset := uuid.New(), uuid.New(), uuid.New()
	key := StorageKey(org, ds, asset, "a.png")
	want := org.String() + "/" + ds.String() + "/" + strings.ReplaceAll(asset.String(), "-", "") + "_a.png"
	if key != want {
		t.Fatalf("StorageKey: want=%q got=%q", want, key)
	}
}

func TestValidateFiles(t *testing.T) {
	bad := "xyz"
	good := strings.Repeat("ab", 32)
	files := []FileSpec{
		{Filename: "ok.png", Kind: models.AssetKindImage, ContentType: "image/png; charset=binary", ByteSize: 10, SHA256: &good},
		{Filename: "", Kind: "model", ContentType: "image/gif", ByteSize: 0},
		{Filename: "big.mp4", Kind: models.AssetKindVideo, ContentType: "video/mp4", ByteSize: 501 << 20},
		{Filename: "sum.json", Kind: models.AssetKindOther, ContentType: "application/json", ByteSize: 1, SHA256: &bad},
	}
	errs := ValidateFiles(files, 0)
	want := map[string]string{
		"files[1].filename":     schema.ErrMissingRequired,
		"files[1].kind":         schema.ErrUnsupportedType,
		"files[1].content_type": schema.ErrUnsupportedType,
		"files[1].byte_size":    schema.ErrWrongType,
		"files[2].byte_size":    schema.ErrWrongType,
		"files[3].sha256":       schema.ErrWrongType,
	}
	if len(errs) != len(want) {
		t.Fatalf("errors: want=%d got=%d (%+v)", len(want), len(errs), errs)
	}
	for _, e := range errs {
		if want[e.Path] != e.Type {
			t.Fatalf("error %s: want type %q got %q", e.Path, want[e.Path], e.Type)
		}
	}
	if !strings.Contains(errs[4].Message, "500 MiB") {
		t.Fatalf("size message: got=%q", errs[4].Message)
	}

	if errs := ValidateFiles(nil, 0); len(errs) != 1 || errs[0].Path != "files" {
		t.Fatalf("empty batch: got=%+v", errs)
	}
	if errs := ValidateFiles(make([]FileSpec, 3), 2); len(errs) != 1 || errs[0].Path != "files" {
		t.Fatalf("oversized batch: got=%+v", errs)
	}
}
