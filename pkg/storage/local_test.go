package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestLocalPutHeadGet(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir(), nil)
	is.NoErr(err)

	_, err = l.Head(ctx, "org/ds/a.png")
	is.True(errors.Is(err, ErrObjectNotFound))

	is.NoErr(l.Put(ctx, "org/ds/a.png", "image/png", strings.NewReader("hello"), 5))

	info, err := l.Head(ctx, "org/ds/a.png")
	is.NoErr(err)
	is.Equal(info.Size, int64(5))
	is.Equal(info.ContentType, "")

	rc, info, err := l.Get(ctx, "org/ds/a.png")
	is.NoErr(err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	is.NoErr(err)
	is.Equal(string(b), "hello")
	is.Equal(info.Size, int64(5))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	is := is.New(t)
	l, err := NewLocal(t.TempDir(), nil)
	is.NoErr(err)
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../x", `a\b`} {
		_, err := l.Head(context.Background(), key)
		is.True(errors.Is(err, ErrInvalidKey)) // key must be rejected
	}
}

func TestLocalPutHonorsCancel(t *testing.T) {
	is := is.New(t)
	l, err := NewLocal(t.TempDir(), nil)
	is.NoErr(err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = l.Put(ctx, "k", "", strings.NewReader("data"), 4)
	is.True(errors.Is(err, context.Canceled))
	_, err = l.Head(context.Background(), "k")
	is.True(errors.Is(err, ErrObjectNotFound)) // nothing committed
}

func TestCallbackURL(t *testing.T) {
	is := is.New(t)
	got, err := CallbackURL("http://localhost:8080/", "/api/assets/abc/stream", CallbackQuery{Token: "a.b+c"})
	is.NoErr(err)
	u, err := url.Parse(got)
	is.NoErr(err)
	is.Equal(u.Path, "/api/assets/abc/stream")
	is.Equal(u.Query().Get("token"), "a.b+c")
}

func TestNormalizeContentType(t *testing.T) {
	is := is.New(t)
	is.Equal(NormalizeContentType("Image/PNG; charset=binary"), "image/png")
	is.Equal(NormalizeContentType(""), "")
}
