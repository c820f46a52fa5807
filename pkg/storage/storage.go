// Package storage resolves dataset paths to readable and writable streams.
// Supported: local files, s3:// objects, and read-only http(s) URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Store reads and writes objects under a single scheme.
type Store interface {
	// Reader opens key for reading and reports the content length when
	// known (-1 otherwise).
	Reader(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Writer opens key for writing.
	Writer(ctx context.Context, key string) (io.WriteCloser, error)

	// Scheme names the backing storage (file, s3, http).
	Scheme() string
}

// Resolve picks a store for path and returns the key to use with it.
func Resolve(path string, s3cfg config.S3Config) (Store, string, error) {
	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, or a Windows drive letter.
		return &Local{}, path, nil
	}

	switch u.Scheme {
	case "file":
		return &Local{}, u.Path, nil
	case "s3":
		store, err := NewS3(u.Host, s3cfg)
		if err != nil {
			return nil, "", err
		}
		return store, trimLeadingSlash(u.Path), nil
	case "http", "https":
		return &HTTP{}, path, nil
	default:
		return nil, "", errors.InputError(path, fmt.Errorf("unsupported storage scheme %q", u.Scheme))
	}
}

// Fetch opens path for reading via the store its scheme selects.
func Fetch(ctx context.Context, path string, s3cfg config.S3Config) (io.ReadCloser, int64, error) {
	store, key, err := Resolve(path, s3cfg)
	if err != nil {
		return nil, 0, err
	}
	return store.Reader(ctx, key)
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

// Local reads and writes the filesystem.
type Local struct{}

func (s *Local) Scheme() string { return "file" }

func (s *Local) Reader(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.InputError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.InputError(path, err)
	}
	return f, info.Size(), nil
}

func (s *Local) Writer(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.OutputError(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	return f, nil
}

// HTTP reads http(s) URLs. Writing is not supported.
type HTTP struct{}

func (s *HTTP) Scheme() string { return "http" }

func (s *HTTP) Reader(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, errors.InputError(rawURL, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, errors.InputError(rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, errors.InputError(rawURL, fmt.Errorf("HTTP %s", resp.Status))
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *HTTP) Writer(ctx context.Context, rawURL string) (io.WriteCloser, error) {
	return nil, errors.OutputError(rawURL, fmt.Errorf("http storage is read-only"))
}
