// Package util provides small file helpers shared by the dataset loaders.
package util

import (
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"
)

// IsGzip reports whether the path names a gzip-compressed file.
func IsGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// StripCompression removes a trailing .gz from a path.
func StripCompression(path string) string {
	if IsGzip(path) {
		return path[:len(path)-3]
	}
	return path
}

// BaseExt returns the lowercased format extension with compression stripped:
// "survey.csv.gz" yields ".csv".
func BaseExt(path string) string {
	return strings.ToLower(filepath.Ext(StripCompression(path)))
}

// OpenReader wraps r in a gzip reader when the path says the content is
// compressed. The returned close function closes the gzip layer only; the
// caller still owns r.
func OpenReader(r io.Reader, path string) (io.Reader, func() error, error) {
	if !IsGzip(path) {
		return r, func() error { return nil }, nil
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return gz, gz.Close, nil
}
