package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rushilcs/data-viewer/internal/models"
)

func TestRedact(t *testing.T) {
	in := map[string]any{
		"dataset_id":  "d1",
		"token":       "abc",
		"GrantSecret": "x",
		"upload_url":  "https://bucket.s3.amazonaws.com/k?X-Amz-Signature=zzz",
		"nested":      map[string]any{"authorization": "Bearer t", "count": 3},
		"urls":        []any{"http://h/p?token=1", "plain"},
		"item_count":  2,
	}
	out := Redact(in)

	if out["token"] != redacted || out["GrantSecret"] != redacted {
		t.Fatalf("sensitive keys not masked: %v", out)
	}
	if got := out["upload_url"]; got != "https://bucket.s3.amazonaws.com/k" {
		t.Fatalf("upload_url: want=%q got=%q", "https://bucket.s3.amazonaws.com/k", got)
	}
	nested := out["nested"].(map[string]any)
	if nested["authorization"] != redacted || nested["count"] != 3 {
		t.Fatalf("nested: got=%v", nested)
	}
	urls := out["urls"].([]any)
	if urls[0] != "http://h/p" || urls[1] != "plain" {
		t.Fatalf("urls: got=%v", urls)
	}
	if in["token"] != "abc" {
		t.Fatalf("input mutated")
	}
	if Redact(nil) == nil {
		t.Fatalf("nil input should give empty map")
	}
}

type execRecorder struct {
	sql  string
	args []any
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (e *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestRecord(t *testing.T) {
	db := &execRecorder{}
	uid := uuid.New()
	ev := models.AuditEvent{
		OrgID:     uuid.New(),
		UserID:    &uid,
		EventType: EventMintAssetURL,
		EventData: map[string]any{"asset_id": "a", "token": "t"},
	}
	if err := Record(context.Background(), db, ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(db.args) != 6 {
		t.Fatalf("args: want=6 got=%d", len(db.args))
	}
	if db.args[2] != EventMintAssetURL {
		t.Fatalf("event type: want=%q got=%v", EventMintAssetURL, db.args[2])
	}
	var data map[string]any
	if err := json.Unmarshal(db.args[3].([]byte), &data); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if data["token"] != redacted || data["asset_id"] != "a" {
		t.Fatalf("event data: got=%v", data)
	}
}

func TestNewEventSource(t *testing.T) {
	id := models.Identity{UserID: uuid.New(), OrgID: uuid.New(), Role: models.RoleAdmin}
	ctx := WithSource(context.Background(), "10.0.0.1", "curl/8")
	ev := NewEvent(ctx, id, EventArchiveDataset, nil)
	if ev.IP != "10.0.0.1" || ev.UserAgent != "curl/8" {
		t.Fatalf("source: got ip=%q ua=%q", ev.IP, ev.UserAgent)
	}
	if ev.UserID == nil || *ev.UserID != id.UserID || ev.OrgID != id.OrgID {
		t.Fatalf("identity not copied: %+v", ev)
	}
	if bare := NewEvent(context.Background(), id, EventArchiveDataset, nil); bare.IP != "" {
		t.Fatalf("bare context: want empty ip, got=%q", bare.IP)
	}
}
