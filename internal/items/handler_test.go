package items

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	items  map[uuid.UUID]models.Item
	assets map[uuid.UUID][]models.AssetSummary
	anns   map[uuid.UUID][]models.Annotation
}

func (f *fakeStore) GetItem(_ context.Context, orgID, itemID uuid.UUID) (*models.Item, error) {
	it, ok := f.items[itemID]
	if !ok || it.OrgID != orgID {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (f *fakeStore) ListAssets(_ context.Context, _ uuid.UUID, itemID uuid.UUID) ([]models.AssetSummary, error) {
	return f.assets[itemID], nil
}

func (f *fakeStore) ListAnnotations(_ context.Context, _ uuid.UUID, itemID uuid.UUID) ([]models.Annotation, error) {
	return f.anns[itemID], nil
}

type fakeFinder struct {
	hidden map[uuid.UUID]bool
}

func (f *fakeFinder) GetVisible(_ context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error) {
	if f.hidden[datasetID] && !id.CanManage() {
		return nil, datasets.ErrNotFound
	}
	return &models.Dataset{ID: datasetID, OrgID: id.OrgID}, nil
}

func TestItemDetail(t *testing.T) {
	orgID := uuid.New()
	viewer := models.Identity{UserID: uuid.New(), OrgID: orgID, Role: models.RoleViewer}
	visible := models.Item{ID: uuid.New(), OrgID: orgID, DatasetID: uuid.New(), Type: schema.TypeVideoWithTimeline,
		Payload: json.RawMessage(`{"video_asset_id":"x"}`), CreatedAt: time.Now()}
	hidden := models.Item{ID: uuid.New(), OrgID: orgID, DatasetID: uuid.New(), Type: schema.TypeImagePairCompare,
		Payload: json.RawMessage(`{}`), CreatedAt: time.Now()}

	store := &fakeStore{
		items: map[uuid.UUID]models.Item{visible.ID: visible, hidden.ID: hidden},
		assets: map[uuid.UUID][]models.AssetSummary{
			visible.ID: {{ID: uuid.New(), Kind: models.AssetKindVideo, ContentType: "video/mp4", ByteSize: 42}},
		},
		anns: map[uuid.UUID][]models.Annotation{
			visible.ID: {
				{ID: uuid.New(), ItemID: visible.ID, Schema: schema.AnnotationTimelineV1,
					Data: json.RawMessage(`{"events":[{"t_start":5,"label":"b"},{"start":1.5,"t_end":2,"track":"t1"}]}`)},
				{ID: uuid.New(), ItemID: visible.ID, Schema: schema.AnnotationCaptionsV1,
					Data: json.RawMessage(`{"segments":[{"start":3,"text":"later"},{"start":0,"end":1,"text":"hi"}]}`)},
			},
		},
	}
	finder := &fakeFinder{hidden: map[uuid.UUID]bool{hidden.DatasetID: true}}

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextIdentity, viewer) })
	NewHandler(store, finder, nil).Register(r.Group("/api"))

	get := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil))
		return rec
	}

	rec := get(visible.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, rec.Code)
	}
	var env struct {
		Data Detail `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	d := env.Data
	if d.ID != visible.ID || len(d.Assets) != 1 || len(d.Annotations) != 2 {
		t.Fatalf("detail: got=%+v", d)
	}
	if len(d.TimelineEvents) != 2 || d.TimelineEvents[0].TStart != 1.5 || d.TimelineEvents[0].Track == nil || *d.TimelineEvents[0].Track != "t1" {
		t.Fatalf("timeline: got=%+v", d.TimelineEvents)
	}
	if len(d.CaptionSegments) != 2 || d.CaptionSegments[0].Text != "hi" {
		t.Fatalf("captions: got=%+v", d.CaptionSegments)
	}

	for name, id := range map[string]string{
		"hidden dataset": hidden.ID.String(),
		"missing":        uuid.NewString(),
	} {
		t.Run(name, func(t *testing.T) {
			if rec := get(id); rec.Code != http.StatusNotFound {
				t.Fatalf("status: want=%d got=%d", http.StatusNotFound, rec.Code)
			}
		})
	}
	if rec := get("abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
}
