package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-querystring/query"
	"go.uber.org/zap"
)

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// Local stores objects as files under a root directory. It does not record
// content types, so Head reports an empty ContentType.
type Local struct {
	root   string
	logger *zap.Logger
}

// NewLocal creates the root directory if needed.
func NewLocal(root string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	logger.Info("local storage ready", zap.String("dir", abs))
	return &Local{root: abs, logger: logger}, nil
}

func (l *Local) Name() string { return BackendLocal }

func (l *Local) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidKey
	}
	return filepath.Join(l.root, clean), nil
}

// Head stats the object file.
func (l *Local) Head(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if st.IsDir() {
		return nil, ErrObjectNotFound
	}
	return &ObjectInfo{Size: st.Size()}, nil
}

// Put writes body to a temp file in the target directory and renames it into
// place, so readers never observe a partial object.
func (l *Local) Put(ctx context.Context, key, _ string, body io.Reader, _ int64) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

// Get opens the object file. Caller must close the reader.
func (l *Local) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}
	return f, &ObjectInfo{Size: st.Size()}, nil
}

// CallbackQuery is the query string of a local signed callback URL.
type CallbackQuery struct {
	Token string `url:"token"`
}

// CallbackURL builds {base}{route}?token=... for local-mode grants.
func CallbackURL(base, route string, q CallbackQuery) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + route)
	if err != nil {
		return "", fmt.Errorf("parse callback base: %w", err)
	}
	v, err := query.Values(q)
	if err != nil {
		return "", fmt.Errorf("encode callback query: %w", err)
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
