package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/reconcile"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

type fakeAssets struct {
	rows []models.Asset
	err  error
}

func (f *fakeAssets) UnlinkedAssets(_ context.Context, orgID, datasetID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Asset
	for _, a := range f.rows {
		if want[a.ID] && a.OrgID == orgID && a.DatasetID == datasetID && a.ItemID == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeStore struct {
	objects map[string]storage.ObjectInfo
	heads   atomic.Int32
	fail    error
}

func (f *fakeStore) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	f.heads.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	info, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &info, nil
}

type fixture struct {
	org, dataset uuid.UUID
	assets       *fakeAssets
	store        *fakeStore
	v            *Validator
}

func newFixture() *fixture {
	f := &fixture{
		org:     uuid.New(),
		dataset: uuid.New(),
		assets:  &fakeAssets{},
		store:   &fakeStore{objects: map[string]storage.ObjectInfo{}},
	}
	f.v = NewValidator(schema.Default(), f.assets, reconcile.New(f.store, 4, nil))
	return f
}

// uploaded registers an asset row and its stored object.
func (f *fixture) uploaded(ct string, size int64) uuid.UUID {
	a := models.Asset{ID: uuid.New(), OrgID: f.org, DatasetID: f.dataset, StorageKey: uuid.NewString(), ContentType: ct, ByteSize: size}
	f.assets.rows = append(f.assets.rows, a)
	f.store.objects[a.StorageKey] = storage.ObjectInfo{Size: size, ContentType: ct}
	return a.ID
}

func manifestOf(items ...string) Manifest {
	m := Manifest{}
	for _, it := range items {
		m.Items = append(m.Items, json.RawMessage(it))
	}
	return m
}

func pair(left, right uuid.UUID) string {
	return fmt.Sprintf(`{"type":"image_pair_compare","title":"t","payload":{"left_asset_id":%q,"right_asset_id":%q,"prompt":"x"}}`, left, right)
}

func validationErrors(t *testing.T, err error) []schema.FieldError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
	return ve.Errors
}

func TestNonexistentAssetReportsExactPath(t *testing.T) {
	f := newFixture()
	right := f.uploaded("image/png", 10)
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, manifestOf(pair(uuid.New(), right)))
	errs := validationErrors(t, err)
	if len(errs) != 1 {
		t.Fatalf("errors: want=1 got=%d (%v)", len(errs), errs)
	}
	if errs[0].Path != "items[0].payload.left_asset_id" || errs[0].Type != schema.ErrAssetNotUploaded {
		t.Fatalf("unexpected error: %+v", errs[0])
	}
}

func TestCrossOrgAssetLooksNotFound(t *testing.T) {
	f := newFixture()
	right := f.uploaded("image/png", 10)
	foreign := models.Asset{ID: uuid.New(), OrgID: uuid.New(), DatasetID: f.dataset, StorageKey: "other/secret.png", ContentType: "image/png", ByteSize: 10}
	f.assets.rows = append(f.assets.rows, foreign)
	f.store.objects[foreign.StorageKey] = storage.ObjectInfo{Size: 10}

	_, err := f.v.Validate(context.Background(), f.org, f.dataset, manifestOf(pair(foreign.ID, right)))
	errs := validationErrors(t, err)
	if len(errs) != 1 || errs[0].Path != "items[0].payload.left_asset_id" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if errs[0].Message != "asset not found" || strings.Contains(errs[0].Message, foreign.OrgID.String()) {
		t.Fatalf("message leaks detail: %q", errs[0].Message)
	}
}

func TestLinkedAssetIsNotReusable(t *testing.T) {
	f := newFixture()
	left := f.uploaded("image/png", 10)
	right := f.uploaded("image/png", 10)
	item := uuid.New()
	f.assets.rows[0].ItemID = &item
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, manifestOf(pair(left, right)))
	errs := validationErrors(t, err)
	if len(errs) != 1 || errs[0].Path != "items[0].payload.left_asset_id" {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestEmptyManifest(t *testing.T) {
	f := newFixture()
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, Manifest{})
	errs := validationErrors(t, err)
	if len(errs) != 1 || errs[0].Path != "items" || errs[0].Type != schema.ErrMissingRequired {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestAccumulatesAllViolations(t *testing.T) {
	f := newFixture()
	video := f.uploaded("video/mp4", 100)
	m := manifestOf(
		`{"type":"hologram","payload":{}}`,
		`{"type":"image_pair_compare","payload":{"left_asset_id":"`+uuid.NewString()+`"},"color":"red"}`,
		`{"type":"video_with_timeline","payload":{"video_asset_id":"`+video.String()+`"},"annotations":[{"schema":"timeline_v1","data":{"events":[{"label":"x"}]}},{"schema":"nope","data":{}}]}`,
		`"not an object"`,
	)
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, m)
	errs := validationErrors(t, err)
	got := map[string]string{}
	for _, e := range errs {
		got[e.Path] = e.Type
	}
	want := map[string]string{
		"items[0].type":                                  schema.ErrUnsupportedType,
		"items[1].color":                                 schema.ErrExtraForbidden,
		"items[1].payload.right_asset_id":                schema.ErrMissingRequired,
		"items[1].payload.prompt":                        schema.ErrMissingRequired,
		"items[2].annotations[0].data.events[0].t_start": schema.ErrMissingRequired,
		"items[2].annotations[1].schema":                 schema.ErrInvalidAnnotation,
		"items[3]":                                       schema.ErrWrongType,
	}
	if len(got) != len(want) {
		t.Fatalf("errors: want=%v got=%v", want, got)
	}
	for p, typ := range want {
		if got[p] != typ {
			t.Fatalf("path %s: want=%q got=%q (all=%v)", p, typ, got[p], got)
		}
	}
}

func TestAnnotationSchemaMustFitItemType(t *testing.T) {
	f := newFixture()
	left := f.uploaded("image/png", 10)
	right := f.uploaded("image/png", 10)
	m := manifestOf(
		`{"type":"image_pair_compare","payload":{"left_asset_id":"` + left.String() + `","right_asset_id":"` + right.String() + `","prompt":"p"},"annotations":[{"schema":"captions_v1","data":{"segments":[{"start":0,"text":"hi"}]}}]}`,
	)
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, m)
	errs := validationErrors(t, err)
	if len(errs) != 1 || errs[0].Path != "items[0].annotations[0].schema" || errs[0].Type != schema.ErrInvalidAnnotation {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestReconcileMismatchAtFirstReference(t *testing.T) {
	f := newFixture()
	shared := f.uploaded("image/png", 10)
	other := f.uploaded("image/png", 10)
	// Stored object is smaller than declared.
	for _, a := range f.assets.rows {
		if a.ID == shared {
			f.store.objects[a.StorageKey] = storage.ObjectInfo{Size: 4, ContentType: "image/png"}
		}
	}
	m := manifestOf(pair(other, shared), pair(shared, other))
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, m)
	errs := validationErrors(t, err)
	if len(errs) != 1 {
		t.Fatalf("errors: want=1 got=%v", errs)
	}
	if errs[0].Path != "items[0].payload.right_asset_id" || errs[0].Type != schema.ErrAssetSizeMismatch {
		t.Fatalf("unexpected error: %+v", errs[0])
	}
	if got := f.store.heads.Load(); got != 2 {
		t.Fatalf("head calls: want=2 got=%d", got)
	}
}

func TestValidManifestNormalizes(t *testing.T) {
	f := newFixture()
	left := f.uploaded("image/png", 10)
	right := f.uploaded("image/png", 10)
	audio := f.uploaded("audio/mpeg", 50)
	m := manifestOf(
		pair(left, right),
		`{"type":"audio_with_captions","summary":null,"payload":{ "audio_asset_id" : "`+audio.String()+`" },"annotations":[{"schema":"captions_v1","data":{"segments":[{"start":0,"end":1.5,"text":"hi"}]}}]}`,
	)
	items, err := f.v.Validate(context.Background(), f.org, f.dataset, m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: want=2 got=%d", len(items))
	}
	if items[0].Title == nil || *items[0].Title != "t" {
		t.Fatalf("title not carried: %+v", items[0])
	}
	if len(items[0].AssetIDs) != 2 || items[0].AssetIDs[0] != left {
		t.Fatalf("asset ids: %v", items[0].AssetIDs)
	}
	if string(items[1].PayloadJSON) != `{"audio_asset_id":"`+audio.String()+`"}` {
		t.Fatalf("payload not compacted: %s", items[1].PayloadJSON)
	}
	if items[1].Summary != nil {
		t.Fatalf("null summary should be nil")
	}
	if len(items[1].Annotations) != 1 || items[1].Annotations[0].Schema != schema.AnnotationCaptionsV1 {
		t.Fatalf("annotations: %+v", items[1].Annotations)
	}
}

func TestStorageFailureIsNotValidationError(t *testing.T) {
	f := newFixture()
	left := f.uploaded("image/png", 10)
	right := f.uploaded("image/png", 10)
	f.store.fail = errors.New("s3 down")
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, manifestOf(pair(left, right)))
	var ve *ValidationError
	if err == nil || errors.As(err, &ve) {
		t.Fatalf("want infrastructure error, got %v", err)
	}
}

func TestLookupFailureIsNotValidationError(t *testing.T) {
	f := newFixture()
	f.assets.err = errors.New("db down")
	_, err := f.v.Validate(context.Background(), f.org, f.dataset, manifestOf(pair(uuid.New(), uuid.New())))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("want lookup error, got %v", err)
	}
}
