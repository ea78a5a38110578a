package datasets

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	datasets map[uuid.UUID]*models.Dataset
	shares   map[uuid.UUID]map[uuid.UUID]bool
	items    map[uuid.UUID][]models.ItemSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets: map[uuid.UUID]*models.Dataset{},
		shares:   map[uuid.UUID]map[uuid.UUID]bool{},
		items:    map[uuid.UUID][]models.ItemSummary{},
	}
}

func (f *fakeStore) visible(id models.Identity, d *models.Dataset) bool {
	if d.OrgID != id.OrgID {
		return false
	}
	if id.CanManage() {
		return true
	}
	return d.Status == models.DatasetStatusPublished && f.shares[d.ID][id.UserID]
}

func (f *fakeStore) GetVisible(_ context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error) {
	d, ok := f.datasets[datasetID]
	if !ok || !f.visible(id, d) {
		return nil, ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) ListVisible(_ context.Context, id models.Identity, flt DatasetFilter) ([]models.Dataset, error) {
	var out []models.Dataset
	for _, d := range f.datasets {
		if f.visible(id, d) && (flt.Status == "" || d.Status == flt.Status) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > flt.Limit+1 {
		out = out[:flt.Limit+1]
	}
	return out, nil
}

func less(a, b models.ItemSummary) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func (f *fakeStore) ListItems(_ context.Context, _ uuid.UUID, datasetID uuid.UUID, flt ItemFilter) ([]models.ItemSummary, error) {
	all := append([]models.ItemSummary(nil), f.items[datasetID]...)
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	var out []models.ItemSummary
	for _, it := range all {
		if flt.Type != "" && it.Type != flt.Type {
			continue
		}
		if flt.After != nil && !less(models.ItemSummary{CreatedAt: flt.After.CreatedAt, ID: flt.After.ID}, it) {
			continue
		}
		out = append(out, it)
		if len(out) == flt.Limit+1 {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ItemTypeCounts(_ context.Context, _ uuid.UUID, datasetID uuid.UUID) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, it := range f.items[datasetID] {
		counts[it.Type]++
	}
	return counts, nil
}

type fixture struct {
	store     *fakeStore
	router    *gin.Engine
	orgID     uuid.UUID
	admin     models.Identity
	viewer    models.Identity
	published *models.Dataset
	draft     *models.Dataset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{store: newFakeStore(), orgID: uuid.New()}
	fx.admin = models.Identity{UserID: uuid.New(), OrgID: fx.orgID, Role: models.RoleAdmin}
	fx.viewer = models.Identity{UserID: uuid.New(), OrgID: fx.orgID, Role: models.RoleViewer}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.published = &models.Dataset{ID: uuid.New(), OrgID: fx.orgID, Name: "pub", Status: models.DatasetStatusPublished, Tags: []string{"eval"}, CreatedAt: base}
	fx.draft = &models.Dataset{ID: uuid.New(), OrgID: fx.orgID, Name: "draft", Status: models.DatasetStatusDraft, Tags: []string{}, CreatedAt: base.Add(time.Hour)}
	fx.store.datasets[fx.published.ID] = fx.published
	fx.store.datasets[fx.draft.ID] = fx.draft
	fx.store.shares[fx.published.ID] = map[uuid.UUID]bool{fx.viewer.UserID: true}
	for i := 0; i < 7; i++ {
		typ := "image_pair_compare"
		if i%3 == 0 {
			typ = "video_with_timeline"
		}
		fx.addItem(typ, base.Add(time.Duration(i)*time.Microsecond))
	}
	fx.router = gin.New()
	fx.router.Use(func(c *gin.Context) {
		switch c.GetHeader("X-Test-Role") {
		case models.RoleAdmin:
			c.Set(middleware.ContextIdentity, fx.admin)
		case models.RoleViewer:
			c.Set(middleware.ContextIdentity, fx.viewer)
		}
	})
	NewHandler(fx.store, nil).Register(fx.router.Group("/api"))
	return fx
}

func (fx *fixture) addItem(typ string, at time.Time) {
	fx.store.items[fx.published.ID] = append(fx.store.items[fx.published.ID], models.ItemSummary{ID: uuid.New(), Type: typ, CreatedAt: at})
}

func (fx *fixture) get(t *testing.T, role, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return rec.Code
}

func TestVisibility(t *testing.T) {
	fx := newFixture(t)
	stranger := models.Identity{UserID: uuid.New(), OrgID: uuid.New(), Role: models.RoleAdmin}

	tests := []struct {
		name   string
		role   string
		path   string
		status int
	}{
		{"admin sees draft", models.RoleAdmin, "/api/datasets/" + fx.draft.ID.String(), http.StatusOK},
		{"viewer hidden draft", models.RoleViewer, "/api/datasets/" + fx.draft.ID.String(), http.StatusNotFound},
		{"viewer shared published", models.RoleViewer, "/api/datasets/" + fx.published.ID.String(), http.StatusOK},
		{"missing", models.RoleAdmin, "/api/datasets/" + uuid.NewString(), http.StatusNotFound},
		{"bad id", models.RoleAdmin, "/api/datasets/nope", http.StatusBadRequest},
		{"no identity", "", "/api/datasets", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := fx.get(t, tc.role, tc.path, nil); got != tc.status {
				t.Fatalf("status: want=%d got=%d", tc.status, got)
			}
		})
	}

	var page DatasetPage
	fx.get(t, models.RoleViewer, "/api/datasets", &page)
	if len(page.Datasets) != 1 || page.Datasets[0].ID != fx.published.ID {
		t.Fatalf("viewer listing: want only published, got=%v", page.Datasets)
	}
	if _, err := fx.store.GetVisible(context.Background(), stranger, fx.published.ID); err != ErrNotFound {
		t.Fatalf("cross org: want ErrNotFound, got %v", err)
	}
}

func TestListItemsKeysetStableAcrossInserts(t *testing.T) {
	fx := newFixture(t)
	path := "/api/datasets/" + fx.published.ID.String() + "/items?limit=3"

	var first ItemPage
	if code := fx.get(t, models.RoleViewer, path, &first); code != http.StatusOK {
		t.Fatalf("first page: status=%d", code)
	}
	if len(first.Items) != 3 || !first.HasMore || first.NextCursor == nil {
		t.Fatalf("first page: got=%+v", first)
	}

	// Newer rows land before the cursor and must not shift later pages.
	fx.addItem("image_pair_compare", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))

	seen := map[uuid.UUID]bool{}
	for _, it := range first.Items {
		seen[it.ID] = true
	}
	cursor := *first.NextCursor
	total := len(first.Items)
	for {
		var page ItemPage
		if code := fx.get(t, models.RoleViewer, path+"&cursor="+cursor, &page); code != http.StatusOK {
			t.Fatalf("page: status=%d", code)
		}
		for _, it := range page.Items {
			if seen[it.ID] {
				t.Fatalf("item %s repeated", it.ID)
			}
			seen[it.ID] = true
		}
		total += len(page.Items)
		if !page.HasMore {
			break
		}
		cursor = *page.NextCursor
	}
	if total != 7 {
		t.Fatalf("total: want=7 got=%d", total)
	}
}

func TestListItemsParams(t *testing.T) {
	fx := newFixture(t)
	base := "/api/datasets/" + fx.published.ID.String() + "/items"
	for _, q := range []string{"?limit=0", "?limit=101", "?limit=x", "?cursor=!!!", "?cursor=e30", "?created_after=yesterday"} {
		t.Run(q, func(t *testing.T) {
			if got := fx.get(t, models.RoleAdmin, base+q, nil); got != http.StatusBadRequest {
				t.Fatalf("status: want=%d got=%d", http.StatusBadRequest, got)
			}
		})
	}

	var page ItemPage
	fx.get(t, models.RoleAdmin, base+"?tag=missing", &page)
	if len(page.Items) != 0 || page.HasMore {
		t.Fatalf("unknown tag: want empty page, got=%+v", page)
	}
	fx.get(t, models.RoleAdmin, base+"?tag=eval&type=video_with_timeline", &page)
	if len(page.Items) != 3 {
		t.Fatalf("type filter: want=3 got=%d", len(page.Items))
	}

	var draftPage ItemPage
	fx.get(t, models.RoleAdmin, "/api/datasets/"+fx.draft.ID.String()+"/items", &draftPage)
	if len(draftPage.Items) != 0 {
		t.Fatalf("draft: want empty page, got=%d", len(draftPage.Items))
	}
}

func TestItemTypeCounts(t *testing.T) {
	fx := newFixture(t)
	var out TypeCounts
	if code := fx.get(t, models.RoleViewer, "/api/datasets/"+fx.published.ID.String()+"/item-type-counts", &out); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if out.Total != 7 || out.Counts["video_with_timeline"] != 3 || out.Counts["image_pair_compare"] != 4 {
		t.Fatalf("counts: got=%+v", out)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC), ID: uuid.New()}
	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || got.ID != c.ID {
		t.Fatalf("round trip: want=%+v got=%+v", c, got)
	}
	if _, err := DecodeCursor("bm90LWpzb24"); err != ErrInvalidCursor {
		t.Fatalf("non-json: want ErrInvalidCursor, got %v", err)
	}
}
