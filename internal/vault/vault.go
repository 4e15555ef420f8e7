// Package vault stores the files distributed to clients: license files,
// statements and EA builds.
package vault

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// Blob is an object store. URL returns a time-limited download link, or an
// empty string when the backend can only stream through Open.
type Blob interface {
	Put(ctx context.Context, obj Object, body io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds a unique, sortable object key under prefix for an uploaded
// file name.
func NewKey(prefix, filename string) string {
	return path.Join(prefix, ulid.Make().String()+"_"+SafeName(filename))
}

// SafeName keeps letters, digits, dot, dash and underscore; spaces become
// underscores and everything else is dropped.
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
