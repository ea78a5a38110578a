// Package audit writes the append-only log of privileged actions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// Event types.
const (
	EventCreateDataset     = "create_dataset"
	EventIssueUploadGrants = "issue_upload_grants"
	EventPublishDataset    = "publish_dataset"
	EventAppendDataset     = "append_dataset"
	EventArchiveDataset    = "archive_dataset"
	EventMintAssetURL      = "mint_asset_url"
	EventShareAdded        = "share_dataset"
	EventShareRemoved      = "unshare_dataset"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"token", "secret", "password", "authorization", "signature"}

// Redact returns a copy of data with sensitive keys masked and query strings
// stripped from URL values. Nested maps and slices are walked.
func Redact(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = redactValue(item)
		}
		return items
	case string:
		return stripQuery(t)
	default:
		return v
	}
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func stripQuery(s string) string {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.RawQuery == "" {
		return s
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Record inserts ev on db, which may be the pool or an open transaction.
func Record(ctx context.Context, db database.DBTX, ev models.AuditEvent) error {
	data, err := json.Marshal(Redact(ev.EventData))
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", ev.EventType, err)
	}
	const q = `INSERT INTO audit_events (org_id, user_id, event_type, event_data, ip, user_agent)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`
	if _, err := db.Exec(ctx, q, ev.OrgID, ev.UserID, ev.EventType, data, ev.IP, ev.UserAgent); err != nil {
		return fmt.Errorf("audit: insert %s: %w", ev.EventType, err)
	}
	return nil
}

type sourceKey struct{}

type source struct {
	ip        string
	userAgent string
}

// WithSource attaches the caller's IP and user agent to ctx.
func WithSource(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source{ip: ip, userAgent: userAgent})
}

// Capture returns a middleware that records the request source on the request context.
func Capture() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithSource(c.Request.Context(), c.ClientIP(), c.Request.UserAgent()))
		c.Next()
	}
}

// NewEvent builds an event for id, taking the request source from ctx.
func NewEvent(ctx context.Context, id models.Identity, eventType string, data map[string]any) models.AuditEvent {
	uid := id.UserID
	ev := models.AuditEvent{
		OrgID:     id.OrgID,
		UserID:    &uid,
		EventType: eventType,
		EventData: data,
	}
	if src, ok := ctx.Value(sourceKey{}).(source); ok {
		ev.IP = src.ip
		ev.UserAgent = src.userAgent
	}
	return ev
}
