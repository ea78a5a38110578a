package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

type fakeHeader struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
	fail    error
	calls   atomic.Int32
}

func (f *fakeHeader) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &info, nil
}

func asset(key, ct string, size int64) models.Asset {
	return models.Asset{ID: uuid.New(), StorageKey: key, ContentType: ct, ByteSize: size}
}

func TestCheck(t *testing.T) {
	h := &fakeHeader{objects: map[string]storage.ObjectInfo{
		"ok":      {Size: 10, ContentType: "image/png"},
		"noct":    {Size: 10},
		"small":   {Size: 9, ContentType: "image/png"},
		"jpeg":    {Size: 10, ContentType: "image/jpeg"},
		"charset": {Size: 10, ContentType: "Image/PNG; q=1"},
	}}
	r := New(h, 2, nil)
	cases := []struct {
		key  string
		want string
	}{
		{"ok", ""},
		{"noct", ""},
		{"charset", ""},
		{"missing", schema.ErrAssetMissingInStorage},
		{"small", schema.ErrAssetSizeMismatch},
		{"jpeg", schema.ErrAssetContentTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			m, err := r.Check(context.Background(), asset(tc.key, "image/png", 10))
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			got := ""
			if m != nil {
				got = m.Type
			}
			if got != tc.want {
				t.Fatalf("mismatch type: want=%q got=%q", tc.want, got)
			}
		})
	}
}

func TestCheckStorageFailureIsError(t *testing.T) {
	boom := errors.New("boom")
	r := New(&fakeHeader{fail: boom}, 1, nil)
	_, err := r.Check(context.Background(), asset("k", "", 1))
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
}

func TestAllDeduplicates(t *testing.T) {
	h := &fakeHeader{objects: map[string]storage.ObjectInfo{"a": {Size: 1}}}
	r := New(h, 4, nil)
	shared := asset("a", "", 1)
	missing := asset("gone", "", 1)
	mism, err := r.All(context.Background(), []models.Asset{shared, shared, missing, shared})
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if got := h.calls.Load(); got != 2 {
		t.Fatalf("head calls: want=2 got=%d", got)
	}
	if len(mism) != 1 || mism[missing.ID] == nil {
		t.Fatalf("want only missing asset flagged, got %v", mism)
	}
}

func TestAllPropagatesStorageError(t *testing.T) {
	boom := errors.New("unavailable")
	r := New(&fakeHeader{fail: boom}, 2, nil)
	_, err := r.All(context.Background(), []models.Asset{asset("a", "", 1), asset("b", "", 1)})
	if !errors.Is(err, boom) {
		t.Fatalf("want storage error, got %v", err)
	}
}
